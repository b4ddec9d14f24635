package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"raffle/internal/models"
)

// GetEntry returns the entry with the given id.
func (s *Store) GetEntry(id uint64) (*models.RaffleEntry, error) {
	var e *models.RaffleEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, err = getEntry(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntry returns the entry held by the (product, user) unique index,
// whatever its status.
func (s *Store) FindEntry(userID, productID uint64) (*models.RaffleEntry, error) {
	var e *models.RaffleEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, err = findEntry(tx, userID, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindPending returns the pending entry for (userID, productID).
// It has no side effects.
func (s *Store) FindPending(userID, productID uint64) (*models.RaffleEntry, error) {
	e, err := s.FindEntry(userID, productID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EntryPending {
		return nil, errors.Wrapf(ErrEntryNotFound, "no pending entry for user %d product %d", userID, productID)
	}
	return e, nil
}

// InsertEntry stores e as a new pending entry and queues an entry.created
// event in the same transaction. ID, Code, Status and CreatedAt are filled in.
//
// Returns ErrDuplicateEntry if the (product, user) pair is already taken.
func (s *Store) InsertEntry(e *models.RaffleEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketEntryIndex)
		key := pairKey(e.ProductID, e.UserID)
		if idx.Get(key) != nil {
			return errors.Wrapf(ErrDuplicateEntry, "user %d product %d", e.UserID, e.ProductID)
		}

		entries := tx.Bucket(bucketEntries)
		id, err := entries.NextSequence()
		if err != nil {
			return errors.Wrap(err, "allocate entry id")
		}
		e.ID = id
		if e.Code == "" {
			e.Code = uuid.NewString()
		}
		e.Status = models.EntryPending
		e.CreatedAt = s.now()

		if err := putJSON(entries, itob(id), e); err != nil {
			return err
		}
		if err := idx.Put(key, itob(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProductEntries).Put(pairKey(e.ProductID, id), itob(e.UserID)); err != nil {
			return err
		}
		return s.enqueue(tx, models.EventEntryCreated, e.Code, entryCreated(e))
	})
}

// DeletePending removes the pending entry for (userID, productID). It reports
// whether anything was deleted; a missing or already settled entry is not an
// error.
func (s *Store) DeletePending(userID, productID uint64) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		e, err := findEntry(tx, userID, productID)
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != models.EntryPending {
			return nil
		}

		if err := tx.Bucket(bucketEntries).Delete(itob(e.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntryIndex).Delete(pairKey(productID, userID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProductEntries).Delete(pairKey(productID, e.ID)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// EntryStats counts the product's entries by status.
func (s *Store) EntryStats(productID uint64) (map[models.EntryStatus]int, error) {
	stats := map[models.EntryStatus]int{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachProductEntry(tx, productID, func(e *models.RaffleEntry) {
			stats[e.Status]++
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CountPending returns the number of pending entries for the product.
func (s *Store) CountPending(productID uint64) (int, error) {
	stats, err := s.EntryStats(productID)
	if err != nil {
		return 0, err
	}
	return stats[models.EntryPending], nil
}

// SelectRandomPending draws up to limit distinct pending entry ids for the
// product, uniformly at random and without replacement. Fewer ids come back
// when fewer entries are pending.
//
// The draw reads a snapshot; entries may be cancelled before they are
// settled, and settlement re-checks their state.
func (s *Store) SelectRandomPending(productID uint64, limit int) ([]uint64, error) {
	ids := []uint64{}
	if limit <= 0 {
		return ids, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachProductEntry(tx, productID, func(e *models.RaffleEntry) {
			if e.Status == models.EntryPending {
				ids = append(ids, e.ID)
			}
		})
	})
	if err != nil {
		return nil, err
	}

	n := min(limit, len(ids))
	s.rndMu.Lock()
	for i := 0; i < n; i++ {
		j := i + s.rnd.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	s.rndMu.Unlock()
	return ids[:n], nil
}

// PromoteToWinner moves a pending entry to winner. It fails with
// ErrInvalidStateTransition when the entry is not pending at call time.
func (s *Store) PromoteToWinner(entryID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := promoteToWinner(tx, entryID)
		return err
	})
}

func promoteToWinner(tx *bolt.Tx, entryID uint64) (*models.RaffleEntry, error) {
	e, err := getEntry(tx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EntryPending {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "entry %d is %s", entryID, e.Status)
	}
	e.Status = models.EntryWinner
	return e, putJSON(tx.Bucket(bucketEntries), itob(e.ID), e)
}

func getEntry(tx *bolt.Tx, id uint64) (*models.RaffleEntry, error) {
	var e models.RaffleEntry
	found, err := getJSON(tx.Bucket(bucketEntries), itob(id), &e)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrEntryNotFound, "entry %d", id)
	}
	return &e, nil
}

func findEntry(tx *bolt.Tx, userID, productID uint64) (*models.RaffleEntry, error) {
	raw := tx.Bucket(bucketEntryIndex).Get(pairKey(productID, userID))
	if raw == nil {
		return nil, errors.Wrapf(ErrEntryNotFound, "user %d product %d", userID, productID)
	}
	return getEntry(tx, btoi(raw))
}

func forEachProductEntry(tx *bolt.Tx, productID uint64, fn func(*models.RaffleEntry)) error {
	prefix := itob(productID)
	c := tx.Bucket(bucketProductEntries).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		e, err := getEntry(tx, btoi(k[8:]))
		if err != nil {
			return err
		}
		fn(e)
	}
	return nil
}
