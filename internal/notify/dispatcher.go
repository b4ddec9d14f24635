package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/logger"

	"raffle/internal/metrics"
	"raffle/internal/models"
)

// Outbox is the part of the store the dispatcher needs.
type Outbox interface {
	PendingEvents(limit int) ([]models.Event, error)
	MarkDelivered(seq uint64) error
	MarkFailed(seq uint64, reason string, maxAttempts int) (bool, error)
}

// Dispatcher polls the outbox and publishes pending events.
type Dispatcher struct {
	outbox      Outbox
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(outbox Outbox, publisher Publisher, interval time.Duration, batchSize, maxAttempts int) *Dispatcher {
	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Start runs the dispatcher until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.DispatchOnce(ctx); err != nil {
					logger.Warningf("outbox: dispatch failed: %v", err)
				}
			}
		}
	}()
}

// DispatchOnce publishes one batch of pending events and returns how many
// were delivered. A failed event is marked and the rest are still tried.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.outbox.PendingEvents(d.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.publisher.Publish(ctx, evt.Type, evt.Key, evt.Payload); err != nil {
			dead, markErr := d.outbox.MarkFailed(evt.Seq, truncate(err.Error()), d.maxAttempts)
			if markErr != nil {
				logger.Warningf("outbox: mark failed seq=%d: %v", evt.Seq, markErr)
			}
			if dead {
				metrics.RecordOutbox(evt.Type, "dead")
				logger.Errorf("outbox: giving up on event id=%s type=%s after %d attempts: %v", evt.ID, evt.Type, evt.Attempts+1, err)
			} else {
				metrics.RecordOutbox(evt.Type, "retry")
				logger.Warningf("outbox: publish failed id=%s type=%s: %v", evt.ID, evt.Type, err)
			}
			continue
		}
		if err := d.outbox.MarkDelivered(evt.Seq); err != nil {
			logger.Warningf("outbox: mark delivered seq=%d: %v", evt.Seq, err)
			continue
		}
		metrics.RecordOutbox(evt.Type, "sent")
		sent++
	}
	return sent, nil
}

// Drain dispatches batches until one delivers nothing, for callers that exit
// right after producing events. Events that keep failing stay in the outbox
// for the next running dispatcher.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		sent, err := d.DispatchOnce(ctx)
		total += sent
		if err != nil || sent == 0 {
			return total, err
		}
	}
}

func truncate(msg string) string {
	if len(msg) > 240 {
		return msg[:240]
	}
	return msg
}
