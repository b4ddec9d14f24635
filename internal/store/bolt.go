// Package store provides the BoltDB-backed persistence layer for raffles.
//
// Every mutation runs inside a single bolt write transaction. Bolt allows one
// writer at a time, so the stock decrement, the entry state checks and the
// order insert are serialised without any further locking. Write transactions
// are kept short: nothing here calls out to the network.
//
// Uniqueness rules live in index buckets rather than in application checks:
//   - entry_index holds one key per (product, user) pair
//   - order_index holds one key per settled entry
//   - order_codes and payment_codes keep order and payment codes unique
//   - reservations holds one key per entry being settled
package store

import (
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/pkg/errors"
)

var (
	bucketProducts       = []byte("products")
	bucketAddresses      = []byte("addresses")
	bucketEntries        = []byte("entries")
	bucketEntryIndex     = []byte("entry_index")
	bucketProductEntries = []byte("product_entries")
	bucketOrders         = []byte("orders")
	bucketOrderIndex     = []byte("order_index")
	bucketOrderCodes     = []byte("order_codes")
	bucketPaymentCodes   = []byte("payment_codes")
	bucketReservations   = []byte("reservations")
	bucketOutbox         = []byte("outbox")
	bucketOutboxDead     = []byte("outbox_dead")
)

var allBuckets = [][]byte{
	bucketProducts,
	bucketAddresses,
	bucketEntries,
	bucketEntryIndex,
	bucketProductEntries,
	bucketOrders,
	bucketOrderIndex,
	bucketOrderCodes,
	bucketPaymentCodes,
	bucketReservations,
	bucketOutbox,
	bucketOutboxDead,
}

// Store wraps a BoltDB database and exposes the entry ledger, the stock
// ledger, the order book and the event outbox.
type Store struct {
	db  *bolt.DB
	now func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New opens (or creates) a BoltDB database at path and makes sure every
// bucket exists. timeout bounds how long Open waits for the file lock.
func New(path string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt db %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping runs an empty read transaction, used by health checks.
func (s *Store) Ping() error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// pairKey joins two ids into one sortable key. The first id is the prefix,
// so a cursor seek on itob(a) visits every pair starting with a.
func pairKey(a, b uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], a)
	binary.BigEndian.PutUint64(k[8:], b)
	return k
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "decode key %x", key)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	return b.Put(key, data)
}

func jsonUnmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "decode value")
	}
	return nil
}
