package store

import (
	bolt "go.etcd.io/bbolt"
	"github.com/pkg/errors"

	"raffle/internal/models"
)

// PutAddress creates or replaces an address. A zero ID allocates a new one.
func (s *Store) PutAddress(a *models.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAddresses)
		if a.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return errors.Wrap(err, "allocate address id")
			}
			a.ID = id
		} else if a.ID > b.Sequence() {
			if err := b.SetSequence(a.ID); err != nil {
				return errors.Wrap(err, "advance address sequence")
			}
		}
		return putJSON(b, itob(a.ID), a)
	})
}

// GetAddressForUser returns the address only if it belongs to userID.
// Someone else's address is reported as not found.
func (s *Store) GetAddressForUser(addressID, userID uint64) (*models.Address, error) {
	var a models.Address
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketAddresses), itob(addressID), &a)
		if err != nil {
			return err
		}
		if !found || a.UserID != userID {
			return errors.Wrapf(ErrAddressNotFound, "address %d for user %d", addressID, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
