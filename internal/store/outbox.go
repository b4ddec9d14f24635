package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"raffle/internal/models"
)

// EntryCreatedPayload is the body of an entry.created event. The payment
// token is left out on purpose.
type EntryCreatedPayload struct {
	EntryID   uint64    `json:"entryId"`
	EntryCode string    `json:"entryCode"`
	UserID    uint64    `json:"userId"`
	AddressID uint64    `json:"addressId"`
	ProductID uint64    `json:"productId"`
	CreatedAt time.Time `json:"createdAt"`
}

func entryCreated(e *models.RaffleEntry) EntryCreatedPayload {
	return EntryCreatedPayload{
		EntryID:   e.ID,
		EntryCode: e.Code,
		UserID:    e.UserID,
		AddressID: e.AddressID,
		ProductID: e.ProductID,
		CreatedAt: e.CreatedAt,
	}
}

// enqueue appends an event to the outbox inside the caller's transaction, so
// the event exists if and only if the state change that produced it commits.
func (s *Store) enqueue(tx *bolt.Tx, eventType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", eventType)
	}
	b := tx.Bucket(bucketOutbox)
	seq, err := b.NextSequence()
	if err != nil {
		return errors.Wrap(err, "allocate outbox sequence")
	}
	evt := &models.Event{
		Seq:       seq,
		ID:        uuid.NewString(),
		Type:      eventType,
		Key:       key,
		Payload:   body,
		CreatedAt: s.now(),
	}
	return putJSON(b, itob(seq), evt)
}

// PendingEvents returns up to limit undelivered events, oldest first.
func (s *Store) PendingEvents(limit int) ([]models.Event, error) {
	events := []models.Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil && len(events) < limit; k, v = c.Next() {
			var evt models.Event
			if err := jsonUnmarshal(v, &evt); err != nil {
				return err
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkDelivered removes a delivered event from the outbox.
func (s *Store) MarkDelivered(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete(itob(seq))
	})
}

// MarkFailed records a failed delivery attempt. Once attempts reaches
// maxAttempts the event is moved to the dead-letter bucket and reported as
// dead.
func (s *Store) MarkFailed(seq uint64, reason string, maxAttempts int) (bool, error) {
	dead := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		var evt models.Event
		found, err := getJSON(b, itob(seq), &evt)
		if err != nil || !found {
			return err
		}
		evt.Attempts++
		evt.LastError = reason
		if evt.Attempts < maxAttempts {
			return putJSON(b, itob(seq), &evt)
		}
		dead = true
		if err := putJSON(tx.Bucket(bucketOutboxDead), itob(seq), &evt); err != nil {
			return err
		}
		return b.Delete(itob(seq))
	})
	return dead, err
}

// DeadEvents returns the events that exhausted their delivery attempts.
func (s *Store) DeadEvents() ([]models.Event, error) {
	events := []models.Event{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutboxDead).ForEach(func(_, v []byte) error {
			var evt models.Event
			if err := jsonUnmarshal(v, &evt); err != nil {
				return err
			}
			events = append(events, evt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
