package store

import (
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/pkg/errors"

	"raffle/internal/models"
)

// PutProduct creates or replaces a product. A zero ID allocates a new one.
// Catalog management owns products; the raffle core only calls this from the
// admin surface and from tests.
//
// Quantity counts units not yet reserved. Changing it while reservations on
// the product are outstanding returns ErrStockReserved, since a later release
// would add its unit on top of the new figure.
func (s *Store) PutProduct(p *models.Product) error {
	if p.Quantity < 0 {
		return errors.Errorf("product quantity must not be negative, got %d", p.Quantity)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProducts)
		if p.ID != 0 {
			current, err := getProduct(tx, p.ID)
			switch {
			case errors.Is(err, ErrProductNotFound):
			case err != nil:
				return err
			case current.Quantity != p.Quantity:
				held, err := reservedUnits(tx, p.ID)
				if err != nil {
					return err
				}
				if held > 0 {
					return errors.Wrapf(ErrStockReserved, "product %d has %d units reserved", p.ID, held)
				}
			}
		}
		if p.ID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return errors.Wrap(err, "allocate product id")
			}
			p.ID = id
		} else if p.ID > b.Sequence() {
			if err := b.SetSequence(p.ID); err != nil {
				return errors.Wrap(err, "advance product sequence")
			}
		}
		return putJSON(b, itob(p.ID), p)
	})
}

// GetProduct returns the product with the given id.
func (s *Store) GetProduct(id uint64) (*models.Product, error) {
	var p *models.Product
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = getProduct(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListRaffleable returns the ids of active products whose raffle time is at
// or before now.
func (s *Store) ListRaffleable(now time.Time) ([]uint64, error) {
	ids := []uint64{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
			var p models.Product
			if err := jsonUnmarshal(v, &p); err != nil {
				return err
			}
			if p.Raffleable(now) {
				ids = append(ids, p.ID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func getProduct(tx *bolt.Tx, id uint64) (*models.Product, error) {
	var p models.Product
	found, err := getJSON(tx.Bucket(bucketProducts), itob(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrProductNotFound, "product %d", id)
	}
	return &p, nil
}

func reservedUnits(tx *bolt.Tx, productID uint64) (int, error) {
	held := 0
	err := tx.Bucket(bucketReservations).ForEach(func(_, v []byte) error {
		var res models.Reservation
		if err := jsonUnmarshal(v, &res); err != nil {
			return err
		}
		if res.ProductID == productID {
			held++
		}
		return nil
	})
	return held, err
}
