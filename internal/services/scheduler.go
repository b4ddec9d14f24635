package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/logger"
)

// ReservationSweeper releases reservations left behind by a crash.
type ReservationSweeper interface {
	ReleaseStaleReservations(maxAge time.Duration) (int, error)
}

// CacheSweeper drops expired cache entries.
type CacheSweeper interface {
	Sweep() int
}

// Scheduler runs the raffle on a fixed interval and on demand. Only one run
// is active at a time; batches still in flight from an earlier run are
// skipped by the winner selector.
type Scheduler struct {
	raffle         *RaffleService
	reservations   ReservationSweeper
	reservationTTL time.Duration
	interval       time.Duration
	cache          CacheSweeper

	running atomic.Bool

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(raffle *RaffleService, reservations ReservationSweeper, interval, reservationTTL time.Duration) *Scheduler {
	return &Scheduler{
		raffle:         raffle,
		reservations:   reservations,
		reservationTTL: reservationTTL,
		interval:       interval,
		ctx:            context.Background(),
	}
}

// SetCacheSweeper makes every tick also sweep an in-process cache.
func (s *Scheduler) SetCacheSweeper(c CacheSweeper) {
	s.cache = c
}

// Start runs the scheduler until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRaffleInProgress) {
					logger.Errorf("scheduler: raffle run failed: %v", err)
				}
			}
		}
	}()
}

// RunOnce sweeps stale reservations and starts a raffle. It returns
// ErrRaffleInProgress when another run has not returned yet.
func (s *Scheduler) RunOnce(ctx context.Context) (RaffleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RaffleReport{}, ErrRaffleInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// Trigger starts a raffle in the background and returns at once. The run is
// bound to the scheduler's context, not the caller's.
func (s *Scheduler) Trigger() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRaffleInProgress
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.running.Store(false)
		if _, err := s.run(ctx); err != nil {
			logger.Errorf("scheduler: triggered raffle failed: %v", err)
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) (RaffleReport, error) {
	s.sweep()
	report, err := s.raffle.StartRaffle(ctx)
	if err != nil {
		return report, err
	}
	logger.Infof("scheduler: raffle run covered %d products, %d errors", report.Products, len(report.Errors))
	return report, nil
}

func (s *Scheduler) sweep() {
	if s.reservations != nil && s.reservationTTL > 0 {
		released, err := s.reservations.ReleaseStaleReservations(s.reservationTTL)
		if err != nil {
			logger.Warningf("scheduler: release stale reservations: %v", err)
		} else if released > 0 {
			logger.Warningf("scheduler: released %d stale reservations", released)
		}
	}
	if s.cache != nil {
		if n := s.cache.Sweep(); n > 0 {
			logger.Infof("scheduler: swept %d expired cache entries", n)
		}
	}
}
