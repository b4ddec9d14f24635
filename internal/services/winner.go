package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"

	"raffle/internal/metrics"
)

// EntryDrawer is the part of the store used to draw winners.
type EntryDrawer interface {
	CountPending(productID uint64) (int, error)
	SelectRandomPending(productID uint64, limit int) ([]uint64, error)
}

// SelectionOutcome says what a winner draw did for one product.
type SelectionOutcome string

const (
	SelectionNoStock    SelectionOutcome = "no_stock"
	SelectionNoEntries  SelectionOutcome = "no_entries"
	SelectionInFlight   SelectionOutcome = "in_flight"
	SelectionDispatched SelectionOutcome = "dispatched"
)

// SelectionResult is the result of drawing winners for one product.
type SelectionResult struct {
	ProductID uint64
	Outcome   SelectionOutcome
	BatchName string
	EntryIDs  []uint64
	Batch     *Batch
}

// BatchName names the settlement batch of a product's raffle.
func BatchName(productID uint64) string {
	return fmt.Sprintf("charge_raffle_winners_%d", productID)
}

// WinnerSelector draws winners for a product and hands them to the batch
// orchestrator.
type WinnerSelector struct {
	catalog *CatalogService
	entries EntryDrawer
	batches *BatchOrchestrator
}

// NewWinnerSelector creates a new WinnerSelector.
func NewWinnerSelector(catalog *CatalogService, entries EntryDrawer, batches *BatchOrchestrator) *WinnerSelector {
	return &WinnerSelector{catalog: catalog, entries: entries, batches: batches}
}

// SelectWinners draws up to the product's remaining quantity of pending
// entries, uniformly at random, and dispatches their settlement. Settlement
// runs in the background; wait on the returned Batch to observe it.
func (w *WinnerSelector) SelectWinners(ctx context.Context, productID uint64) (SelectionResult, error) {
	name := BatchName(productID)
	res := SelectionResult{ProductID: productID, BatchName: name}

	if w.batches.InFlight(name) {
		logger.Infof("raffle: product=%d previous batch still running, skipping", productID)
		res.Outcome = SelectionInFlight
		metrics.RecordSelection(string(res.Outcome))
		return res, nil
	}

	// Stock must not come from the cache here.
	p, err := w.catalog.Fresh(ctx, productID)
	if err != nil {
		return res, err
	}
	if p.Quantity <= 0 {
		logger.Infof("raffle: product=%d has no stock left", productID)
		res.Outcome = SelectionNoStock
		metrics.RecordSelection(string(res.Outcome))
		return res, nil
	}

	pending, err := w.entries.CountPending(productID)
	if err != nil {
		return res, err
	}
	if pending == 0 {
		logger.Infof("raffle: product=%d has no pending entries", productID)
		res.Outcome = SelectionNoEntries
		metrics.RecordSelection(string(res.Outcome))
		return res, nil
	}

	ids, err := w.entries.SelectRandomPending(productID, p.Quantity)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		res.Outcome = SelectionNoEntries
		metrics.RecordSelection(string(res.Outcome))
		return res, nil
	}

	b, err := w.batches.Dispatch(ctx, name, ids)
	if errors.Is(err, ErrBatchInFlight) {
		res.Outcome = SelectionInFlight
		metrics.RecordSelection(string(res.Outcome))
		return res, nil
	}
	if err != nil {
		return res, err
	}

	logger.Infof("raffle: product=%d drew %d of %d pending entries for %d units", productID, len(ids), pending, p.Quantity)
	res.Outcome = SelectionDispatched
	res.EntryIDs = ids
	res.Batch = b
	metrics.RecordSelection(string(res.Outcome))
	return res, nil
}
