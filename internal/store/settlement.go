package store

import (
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"raffle/internal/models"
)

// Reserve holds one unit of the entry's product for settlement. It checks,
// in one transaction, that the entry is still pending and not already being
// settled, then decrements stock if any is left.
//
// It returns false with a nil error when the product is out of stock.
func (s *Store) Reserve(entryID uint64) (bool, error) {
	reserved := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		e, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != models.EntryPending {
			return errors.Wrapf(ErrInvalidStateTransition, "entry %d is %s", entryID, e.Status)
		}
		rb := tx.Bucket(bucketReservations)
		if rb.Get(itob(entryID)) != nil {
			return errors.Wrapf(ErrReservationExists, "entry %d", entryID)
		}

		ok, err := decrementIfAvailable(tx, e.ProductID)
		if err != nil || !ok {
			return err
		}
		reserved = true
		return putJSON(rb, itob(entryID), &models.Reservation{
			EntryID:    entryID,
			ProductID:  e.ProductID,
			ReservedAt: s.now(),
		})
	})
	return reserved, err
}

// Release gives the reserved unit back to the product and drops the
// reservation. Used when the charge fails.
func (s *Store) Release(entryID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		res, err := getReservation(tx, entryID)
		if err != nil {
			return err
		}
		return releaseReservation(tx, res)
	})
}

// CommitSettlement turns a reservation into an order. In one transaction it
// creates the order at the product's current price, promotes the entry to
// winner, drops the reservation and queues an order.created event.
//
// If the entry was cancelled or settled since it was reserved, the
// reservation is released instead and ErrInvalidStateTransition is returned.
func (s *Store) CommitSettlement(entryID uint64, paymentCode string) (*models.Order, error) {
	var (
		order    *models.Order
		conflict error
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		res, err := getReservation(tx, entryID)
		if err != nil {
			return err
		}

		e, err := getEntry(tx, entryID)
		switch {
		case errors.Is(err, ErrEntryNotFound):
			conflict = errors.Wrapf(ErrInvalidStateTransition, "entry %d was cancelled", entryID)
			return releaseReservation(tx, res)
		case err != nil:
			return err
		case e.Status != models.EntryPending:
			conflict = errors.Wrapf(ErrInvalidStateTransition, "entry %d is %s", entryID, e.Status)
			return releaseReservation(tx, res)
		}

		if tx.Bucket(bucketOrderIndex).Get(itob(entryID)) != nil {
			return errors.Wrapf(ErrDuplicateOrder, "entry %d", entryID)
		}
		payments := tx.Bucket(bucketPaymentCodes)
		if payments.Get([]byte(paymentCode)) != nil {
			return errors.Errorf("payment transaction code %s already used", paymentCode)
		}

		p, err := getProduct(tx, res.ProductID)
		if err != nil {
			return err
		}

		orders := tx.Bucket(bucketOrders)
		id, err := orders.NextSequence()
		if err != nil {
			return errors.Wrap(err, "allocate order id")
		}
		order = &models.Order{
			ID:                     id,
			Code:                   uuid.NewString(),
			PaymentTransactionCode: paymentCode,
			Status:                 models.OrderCompleted,
			PaymentStatus:          models.PaymentSuccess,
			EntryID:                e.ID,
			UserID:                 e.UserID,
			AddressID:              e.AddressID,
			ProductID:              e.ProductID,
			Amount:                 p.Price,
			CreatedAt:              s.now(),
		}
		if err := putJSON(orders, itob(id), order); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrderIndex).Put(itob(entryID), itob(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrderCodes).Put([]byte(order.Code), itob(id)); err != nil {
			return err
		}
		if err := payments.Put([]byte(paymentCode), itob(id)); err != nil {
			return err
		}

		if _, err := promoteToWinner(tx, entryID); err != nil {
			return err
		}
		if err := tx.Bucket(bucketReservations).Delete(itob(entryID)); err != nil {
			return err
		}
		return s.enqueue(tx, models.EventOrderCreated, order.Code, order)
	})
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, conflict
	}
	return order, nil
}

// ReleaseStaleReservations releases reservations older than maxAge. They are
// left behind when the process dies between reserving and committing.
func (s *Store) ReleaseStaleReservations(maxAge time.Duration) (int, error) {
	released := 0
	cutoff := s.now().Add(-maxAge)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var stale []*models.Reservation
		err := tx.Bucket(bucketReservations).ForEach(func(_, v []byte) error {
			var res models.Reservation
			if err := jsonUnmarshal(v, &res); err != nil {
				return err
			}
			if res.ReservedAt.Before(cutoff) {
				stale = append(stale, &res)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, res := range stale {
			if err := releaseReservation(tx, res); err != nil {
				return err
			}
		}
		released = len(stale)
		return nil
	})
	return released, err
}

// Reservations returns every reservation currently held.
func (s *Store) Reservations() ([]models.Reservation, error) {
	out := []models.Reservation{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservations).ForEach(func(_, v []byte) error {
			var res models.Reservation
			if err := jsonUnmarshal(v, &res); err != nil {
				return err
			}
			out = append(out, res)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrderByCode looks an order up by its public order code.
func (s *Store) GetOrderByCode(code string) (*models.Order, error) {
	var o models.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOrderCodes).Get([]byte(code))
		if raw == nil {
			return errors.Wrapf(ErrOrderNotFound, "order %s", code)
		}
		found, err := getJSON(tx.Bucket(bucketOrders), raw, &o)
		if err != nil {
			return err
		}
		if !found {
			return errors.Wrapf(ErrOrderNotFound, "order %s", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OrdersForProduct returns every order placed for the product.
func (s *Store) OrdersForProduct(productID uint64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(_, v []byte) error {
			var o models.Order
			if err := jsonUnmarshal(v, &o); err != nil {
				return err
			}
			if o.ProductID == productID {
				orders = append(orders, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func getReservation(tx *bolt.Tx, entryID uint64) (*models.Reservation, error) {
	var res models.Reservation
	found, err := getJSON(tx.Bucket(bucketReservations), itob(entryID), &res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrReservationNotFound, "entry %d", entryID)
	}
	return &res, nil
}

func releaseReservation(tx *bolt.Tx, res *models.Reservation) error {
	if err := restock(tx, res.ProductID); err != nil {
		return err
	}
	return tx.Bucket(bucketReservations).Delete(itob(res.EntryID))
}
