package store

import (
	bolt "go.etcd.io/bbolt"
	"github.com/pkg/errors"
)

// DecrementIfAvailable takes one unit of stock from the product if any is
// left and reports whether it did. It runs in its own write transaction;
// settlement uses the transactional variant through Reserve.
func (s *Store) DecrementIfAvailable(productID uint64) (bool, error) {
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		ok, err = decrementIfAvailable(tx, productID)
		return err
	})
	return ok, err
}

// decrementIfAvailable must run inside a write transaction. Bolt admits a
// single writer, so the read-check-write below cannot interleave with another
// decrement.
func decrementIfAvailable(tx *bolt.Tx, productID uint64) (bool, error) {
	p, err := getProduct(tx, productID)
	if err != nil {
		return false, err
	}
	if p.Quantity <= 0 {
		return false, nil
	}
	p.Quantity--
	return true, putJSON(tx.Bucket(bucketProducts), itob(p.ID), p)
}

// restock returns one unit taken by a reservation that did not settle.
func restock(tx *bolt.Tx, productID uint64) error {
	p, err := getProduct(tx, productID)
	if err != nil {
		return errors.Wrap(err, "restock")
	}
	p.Quantity++
	return putJSON(tx.Bucket(bucketProducts), itob(p.ID), p)
}
