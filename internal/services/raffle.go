package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
	"golang.org/x/sync/errgroup"
)

// RaffleReport describes one raffle run.
type RaffleReport struct {
	StartedAt  time.Time
	Products   int
	Selections []SelectionResult
	Errors     map[uint64]error
}

// Wait blocks until every dispatched batch in the report has finished and
// returns their results.
func (r RaffleReport) Wait(ctx context.Context) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(r.Selections))
	for _, sel := range r.Selections {
		if sel.Batch == nil {
			continue
		}
		res, err := sel.Batch.Wait(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RaffleService starts the raffle for every product that is due.
type RaffleService struct {
	catalog  *CatalogService
	selector *WinnerSelector
	workers  int
	now      func() time.Time
}

// NewRaffleService creates a new RaffleService. workers bounds how many
// products are drawn at the same time.
func NewRaffleService(catalog *CatalogService, selector *WinnerSelector, workers int) *RaffleService {
	if workers < 1 {
		workers = 1
	}
	return &RaffleService{catalog: catalog, selector: selector, workers: workers, now: time.Now}
}

// StartRaffle draws winners for every active product whose raffle time has
// passed. Products are processed concurrently; an error or panic for one
// product is recorded in the report and never affects the others. The
// returned error is only set when the product listing itself fails.
func (s *RaffleService) StartRaffle(ctx context.Context) (RaffleReport, error) {
	report := RaffleReport{StartedAt: s.now(), Errors: make(map[uint64]error)}

	ids, err := s.catalog.ListRaffleable(ctx, report.StartedAt)
	if err != nil {
		return report, err
	}
	report.Products = len(ids)
	if len(ids) == 0 {
		logger.Info("raffle: no raffleable products")
		return report, nil
	}
	logger.Infof("raffle: starting for %d products", len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() (err error) {
			var sel SelectionResult
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logger.Errorf("raffle: product=%d failed: %v", id, err)
					report.Errors[id] = err
					return
				}
				report.Selections = append(report.Selections, sel)
			}()
			sel, err = s.selector.SelectWinners(ctx, id)
			return err
		})
	}
	// Errors are kept per product in the report.
	_ = g.Wait()
	return report, nil
}
