package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
	"golang.org/x/sync/errgroup"

	"raffle/internal/metrics"
)

// ErrBatchInFlight is returned by Dispatch when a batch with the same name
// has not finished yet.
var ErrBatchInFlight = errors.New("batch already in flight")

// Settler settles one entry.
type Settler interface {
	Settle(ctx context.Context, entryID uint64) (Outcome, error)
}

// BatchResult summarises a finished (or running) batch.
type BatchResult struct {
	Name     string
	Total    int
	Settled  int
	Failed   int
	Reasons  map[Reason]int
	Outcomes []Outcome
}

// Batch is a group of settlements dispatched together. Items are
// independent: one failing never cancels or rolls back another.
type Batch struct {
	name    string
	started time.Time
	done    chan struct{}

	mu     sync.Mutex
	result BatchResult
}

func newBatch(name string, total int) *Batch {
	return &Batch{
		name:    name,
		started: time.Now(),
		done:    make(chan struct{}),
		result: BatchResult{
			Name:    name,
			Total:   total,
			Reasons: make(map[Reason]int),
		},
	}
}

// Name returns the batch name.
func (b *Batch) Name() string { return b.name }

// Done is closed once every item reached a terminal outcome.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Result returns a snapshot of the counts so far.
func (b *Batch) Result() BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.result
	r.Reasons = make(map[Reason]int, len(b.result.Reasons))
	for k, v := range b.result.Reasons {
		r.Reasons[k] = v
	}
	r.Outcomes = append([]Outcome(nil), b.result.Outcomes...)
	return r
}

// Wait blocks until the batch is done or ctx ends.
func (b *Batch) Wait(ctx context.Context) (BatchResult, error) {
	select {
	case <-b.done:
		return b.Result(), nil
	case <-ctx.Done():
		return b.Result(), ctx.Err()
	}
}

func (b *Batch) record(out Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if out.Settled() {
		b.result.Settled++
	} else {
		b.result.Failed++
		b.result.Reasons[out.Reason]++
	}
	b.result.Outcomes = append(b.result.Outcomes, out)
}

// BatchOrchestrator runs batches of settlements on a bounded worker pool.
type BatchOrchestrator struct {
	settler     Settler
	workers     int
	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	inflight map[string]*Batch
}

// NewBatchOrchestrator creates a new BatchOrchestrator. Transient failures are
// retried up to maxAttempts times, waiting backoff*attempt between tries.
func NewBatchOrchestrator(settler Settler, workers, maxAttempts int, backoff time.Duration) *BatchOrchestrator {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BatchOrchestrator{
		settler:     settler,
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		inflight:    make(map[string]*Batch),
	}
}

// InFlight reports whether a batch with this name is still running.
func (o *BatchOrchestrator) InFlight(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[name]
	return ok
}

// Dispatch starts one settlement per entry id and returns immediately.
func (o *BatchOrchestrator) Dispatch(ctx context.Context, name string, ids []uint64) (*Batch, error) {
	o.mu.Lock()
	if _, ok := o.inflight[name]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBatchInFlight, name)
	}
	b := newBatch(name, len(ids))
	o.inflight[name] = b
	o.mu.Unlock()

	logger.Infof("batch %s: dispatching %d settlements", name, len(ids))
	go o.run(ctx, b, ids)
	return b, nil
}

// Run dispatches the batch and waits for it.
func (o *BatchOrchestrator) Run(ctx context.Context, name string, ids []uint64) (BatchResult, error) {
	b, err := o.Dispatch(ctx, name, ids)
	if err != nil {
		return BatchResult{Name: name}, err
	}
	return b.Wait(ctx)
}

func (o *BatchOrchestrator) run(ctx context.Context, b *Batch, ids []uint64) {
	// A plain Group: no shared context, so a failed item never cancels siblings.
	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, id := range ids {
		g.Go(func() error {
			b.record(o.settleOne(ctx, id))
			return nil
		})
	}
	_ = g.Wait()

	res := b.Result()
	metrics.RecordBatch(res.Settled, res.Failed, b.started)
	logger.Infof("batch %s: finished total=%d settled=%d failed=%d reasons=%v",
		res.Name, res.Total, res.Settled, res.Failed, res.Reasons)

	o.mu.Lock()
	delete(o.inflight, b.name)
	o.mu.Unlock()
	close(b.done)
}

// settleOne settles a single entry, retrying transient failures. A panic is
// contained to its own item.
func (o *BatchOrchestrator) settleOne(ctx context.Context, id uint64) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("settlement: entry=%d panicked: %v", id, r)
			out = Outcome{EntryID: id, Status: StatusFailed, Reason: ReasonPanic}
		}
	}()

	for attempt := 1; ; attempt++ {
		res, err := o.settler.Settle(ctx, id)
		if err == nil {
			return res
		}
		if !errors.Is(err, ErrTransient) || attempt >= o.maxAttempts {
			logger.Errorf("settlement: entry=%d failed after %d attempts: %v", id, attempt, err)
			return Outcome{EntryID: id, Status: StatusFailed, Reason: ReasonTransient}
		}
		logger.Warningf("settlement: entry=%d attempt %d failed, retrying: %v", id, attempt, err)
		select {
		case <-ctx.Done():
			return Outcome{EntryID: id, Status: StatusFailed, Reason: ReasonTransient}
		case <-time.After(o.backoff * time.Duration(attempt)):
		}
	}
}
