package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/logger"

	"raffle/internal/metrics"
	"raffle/internal/models"
	"raffle/internal/store"
)

const maxCreateAttempts = 3

// EntryLedger is the entry side of the store.
type EntryLedger interface {
	FindPending(userID, productID uint64) (*models.RaffleEntry, error)
	FindEntry(userID, productID uint64) (*models.RaffleEntry, error)
	InsertEntry(e *models.RaffleEntry) error
	DeletePending(userID, productID uint64) (bool, error)
}

// AddressBook resolves delivery addresses.
type AddressBook interface {
	GetAddressForUser(addressID, userID uint64) (*models.Address, error)
}

// CreateEntryInput carries one entry request.
type CreateEntryInput struct {
	UserID       uint64
	AddressID    uint64
	ProductID    uint64
	PaymentToken string
}

// EntryService handles the user-facing side of raffle entries.
type EntryService struct {
	entries   EntryLedger
	addresses AddressBook
	catalog   *CatalogService
}

// NewEntryService creates a new EntryService.
func NewEntryService(entries EntryLedger, addresses AddressBook, catalog *CatalogService) *EntryService {
	return &EntryService{entries: entries, addresses: addresses, catalog: catalog}
}

// FindPending returns the user's pending entry for the product and whether
// there is one.
func (s *EntryService) FindPending(userID, productID uint64) (*models.RaffleEntry, bool, error) {
	e, err := s.entries.FindPending(userID, productID)
	if errors.Is(err, store.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Create enters the user into the product's raffle. It is idempotent: when a
// pending entry already exists it is returned unchanged with created=false
// and no event is emitted.
func (s *EntryService) Create(ctx context.Context, in CreateEntryInput) (*models.RaffleEntry, bool, error) {
	if _, err := s.catalog.GetActive(ctx, in.ProductID); err != nil {
		metrics.RecordEntry("failed")
		return nil, false, err
	}
	if _, err := s.addresses.GetAddressForUser(in.AddressID, in.UserID); err != nil {
		metrics.RecordEntry("failed")
		if errors.Is(err, store.ErrAddressNotFound) {
			return nil, false, ErrAddressNotFound
		}
		return nil, false, err
	}

	// A concurrent request may insert between our lookup and our insert; the
	// unique index rejects ours and the holder of the pair is looked up. The
	// holder can itself be cancelled before that lookup, so the pass repeats.
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		existing, found, err := s.FindPending(in.UserID, in.ProductID)
		if err != nil {
			metrics.RecordEntry("failed")
			return nil, false, err
		}
		if found {
			metrics.RecordEntry("existing")
			return existing, false, nil
		}

		e := &models.RaffleEntry{
			UserID:       in.UserID,
			AddressID:    in.AddressID,
			ProductID:    in.ProductID,
			PaymentToken: in.PaymentToken,
		}
		err = s.entries.InsertEntry(e)
		if err == nil {
			metrics.RecordEntry("created")
			logger.Infof("entry: created id=%d code=%s user=%d product=%d", e.ID, e.Code, e.UserID, e.ProductID)
			return e, true, nil
		}
		if !errors.Is(err, store.ErrDuplicateEntry) {
			metrics.RecordEntry("failed")
			return nil, false, err
		}

		holder, err := s.entries.FindEntry(in.UserID, in.ProductID)
		switch {
		case errors.Is(err, store.ErrEntryNotFound):
			logger.Infof("entry: concurrent insert user=%d product=%d was withdrawn, retrying", in.UserID, in.ProductID)
			continue
		case err != nil:
			metrics.RecordEntry("failed")
			return nil, false, err
		case holder.Status == models.EntryPending:
			metrics.RecordEntry("existing")
			return holder, false, nil
		}
		metrics.RecordEntry("failed")
		logger.Warningf("entry: user=%d product=%d already holds %s entry %d", in.UserID, in.ProductID, holder.Status, holder.ID)
		return nil, false, ErrEntryClosed
	}

	metrics.RecordEntry("failed")
	return nil, false, transient(fmt.Errorf("entry for user %d product %d kept changing", in.UserID, in.ProductID))
}

// Cancel withdraws the user's pending entry. A missing entry is not an error.
func (s *EntryService) Cancel(ctx context.Context, userID, productID uint64) error {
	if _, err := s.catalog.GetActive(ctx, productID); err != nil {
		return err
	}
	deleted, err := s.entries.DeletePending(userID, productID)
	if err != nil {
		return err
	}
	if deleted {
		metrics.RecordEntry("cancelled")
		logger.Infof("entry: cancelled user=%d product=%d", userID, productID)
	}
	return nil
}
