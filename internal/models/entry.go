package models

import "time"

// EntryStatus is the state of a raffle entry.
type EntryStatus int

const (
	EntryPending EntryStatus = 0
	EntryWinner  EntryStatus = 1
	EntryLoser   EntryStatus = 2
)

func (s EntryStatus) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryWinner:
		return "winner"
	case EntryLoser:
		return "loser"
	default:
		return "undefined"
	}
}

// RaffleEntry is a user's claim to take part in one product's raffle.
// There is at most one entry per (user, product) pair.
type RaffleEntry struct {
	ID        uint64      `json:"id"`
	Code      string      `json:"code"`
	Status    EntryStatus `json:"status"`
	UserID    uint64      `json:"userId"`
	AddressID uint64      `json:"addressId"`
	ProductID uint64      `json:"productId"`
	// PaymentToken is the opaque, already encrypted token handed to the
	// payment gateway when the entry wins.
	PaymentToken string    `json:"paymentToken"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Reservation is one unit of stock held for an in-flight settlement.
type Reservation struct {
	EntryID    uint64    `json:"entryId"`
	ProductID  uint64    `json:"productId"`
	ReservedAt time.Time `json:"reservedAt"`
}
