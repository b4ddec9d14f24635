package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/logger"

	"raffle/internal/metrics"
	"raffle/internal/models"
	"raffle/internal/payment"
	"raffle/internal/store"
)

// SettlementStore is the part of the store used to settle one entry.
type SettlementStore interface {
	GetEntry(id uint64) (*models.RaffleEntry, error)
	Reserve(entryID uint64) (bool, error)
	Release(entryID uint64) error
	CommitSettlement(entryID uint64, paymentCode string) (*models.Order, error)
}

// SettlementProcessor settles a single winning entry: reserve one unit of
// stock, charge the winner, then record the order and promote the entry.
//
// The reservation is committed before the charge so no lock is held across
// the payment call. A failed charge releases the unit again.
//
// The charge is bounded by chargeTimeout, which must stay below the age at
// which the scheduler sweeps reservations. Otherwise a slow charge could see
// its unit released and handed to another winner before it commits.
type SettlementProcessor struct {
	store         SettlementStore
	gateway       payment.Gateway
	catalog       *CatalogService
	chargeTimeout time.Duration
}

// NewSettlementProcessor creates a new SettlementProcessor. A zero
// chargeTimeout leaves the charge bound only by the caller's context.
func NewSettlementProcessor(st SettlementStore, gateway payment.Gateway, catalog *CatalogService, chargeTimeout time.Duration) *SettlementProcessor {
	return &SettlementProcessor{store: st, gateway: gateway, catalog: catalog, chargeTimeout: chargeTimeout}
}

// Settle runs the settlement state machine for one entry. Business outcomes
// (no stock, declined payment, entry gone or settled) come back as a FAILED
// Outcome with a nil error. A non-nil error wraps ErrTransient and means the
// whole attempt can be retried.
func (p *SettlementProcessor) Settle(ctx context.Context, entryID uint64) (out Outcome, err error) {
	started := time.Now()
	out = Outcome{EntryID: entryID, Status: StatusFailed}
	defer func() { metrics.RecordSettlement(string(out.Status), string(out.Reason), started) }()

	entry, err := p.store.GetEntry(entryID)
	if errors.Is(err, store.ErrEntryNotFound) {
		logger.Errorf("settlement: entry=%d not found, dropping", entryID)
		out.Reason = ReasonEntryNotFound
		return out, nil
	}
	if err != nil {
		out.Reason = ReasonTransient
		return out, transient(err)
	}
	if entry.Status != models.EntryPending {
		logger.Warningf("settlement: entry=%d is %s, skipping", entryID, entry.Status)
		out.Reason = ReasonInvalidStateTransition
		return out, nil
	}

	reserved, err := p.store.Reserve(entryID)
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		logger.Warningf("settlement: entry=%d cancelled before reservation", entryID)
		out.Reason = ReasonEntryNotFound
		return out, nil
	case errors.Is(err, store.ErrInvalidStateTransition):
		logger.Warningf("settlement: entry=%d no longer pending", entryID)
		out.Reason = ReasonInvalidStateTransition
		return out, nil
	case errors.Is(err, store.ErrReservationExists):
		logger.Warningf("settlement: entry=%d already being settled", entryID)
		out.Reason = ReasonSettlementInProgress
		return out, nil
	case errors.Is(err, store.ErrProductNotFound):
		logger.Errorf("settlement: entry=%d product=%d is missing", entryID, entry.ProductID)
		out.Reason = ReasonProductNotFound
		return out, nil
	case store.IsDomainError(err):
		logger.Errorf("settlement: entry=%d cannot be reserved: %v", entryID, err)
		out.Reason = ReasonInvalidStateTransition
		return out, nil
	case err != nil:
		out.Reason = ReasonTransient
		return out, transient(err)
	case !reserved:
		logger.Infof("settlement: entry=%d product=%d out of stock", entryID, entry.ProductID)
		out.Reason = ReasonOutOfStock
		return out, nil
	}
	p.catalog.Invalidate(ctx, entry.ProductID)

	code, err := p.charge(ctx, entry)
	if err != nil {
		if releaseErr := p.release(ctx, entry); releaseErr != nil {
			out.Reason = ReasonTransient
			return out, transient(releaseErr)
		}
		if errors.Is(err, payment.ErrDeclined) {
			// TODO: draw a replacement winner once a retry policy for declined payments is agreed.
			logger.Warningf("settlement: entry=%d payment declined, entry stays pending", entryID)
			out.Reason = ReasonPaymentDeclined
			return out, nil
		}
		logger.Warningf("settlement: entry=%d payment call failed: %v", entryID, err)
		out.Reason = ReasonTransient
		return out, transient(err)
	}

	order, err := p.store.CommitSettlement(entryID, code)
	switch {
	case errors.Is(err, store.ErrInvalidStateTransition):
		logger.Warningf("settlement: entry=%d cancelled during charge, payment %s needs a refund", entryID, code)
		p.catalog.Invalidate(ctx, entry.ProductID)
		out.Reason = ReasonInvalidStateTransition
		return out, nil
	case err != nil:
		// Not retried: a second attempt would charge the winner again.
		logger.Errorf("settlement: entry=%d commit failed after charge, payment %s needs a refund: %v", entryID, code, err)
		if releaseErr := p.release(ctx, entry); releaseErr != nil {
			logger.Errorf("settlement: entry=%d release after failed commit: %v", entryID, releaseErr)
		}
		out.Reason = ReasonTransient
		return out, nil
	}
	p.catalog.Invalidate(ctx, entry.ProductID)

	out.Status = StatusSettled
	out.Order = order
	logger.Infof("settlement: entry=%d settled order=%s amount=%s", entryID, order.Code, order.Amount)
	return out, nil
}

func (p *SettlementProcessor) charge(ctx context.Context, entry *models.RaffleEntry) (string, error) {
	if p.chargeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.chargeTimeout)
		defer cancel()
	}
	return p.gateway.Charge(ctx, payment.ChargeRequest{
		EntryID:   entry.ID,
		ProductID: entry.ProductID,
		UserID:    entry.UserID,
		Token:     entry.PaymentToken,
	})
}

func (p *SettlementProcessor) release(ctx context.Context, entry *models.RaffleEntry) error {
	if err := p.store.Release(entry.ID); err != nil {
		logger.Errorf("settlement: entry=%d release failed, left for the stale sweep: %v", entry.ID, err)
		return err
	}
	p.catalog.Invalidate(ctx, entry.ProductID)
	return nil
}

func transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
