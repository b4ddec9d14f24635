package models

import "time"

// Event types written to the outbox.
const (
	EventEntryCreated = "entry.created"
	EventOrderCreated = "order.created"
)

// Event is an outbox row waiting to be delivered to the notification
// collaborator. Key is used as the partition key when publishing.
type Event struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
