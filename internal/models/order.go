package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus int

const (
	OrderPending   OrderStatus = 0
	OrderCompleted OrderStatus = 1
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderCompleted:
		return "completed"
	default:
		return "undefined"
	}
}

// PaymentStatus is the outcome of the charge behind an order.
type PaymentStatus int

const (
	PaymentPending  PaymentStatus = 0
	PaymentSuccess  PaymentStatus = 1
	PaymentDeclined PaymentStatus = 2
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentSuccess:
		return "success"
	case PaymentDeclined:
		return "declined"
	default:
		return "undefined"
	}
}

// Order is created exactly once for every settled raffle entry
// and is never mutated afterwards.
type Order struct {
	ID                     uint64          `json:"id"`
	Code                   string          `json:"code"`
	PaymentTransactionCode string          `json:"paymentTransactionCode"`
	Status                 OrderStatus     `json:"status"`
	PaymentStatus          PaymentStatus   `json:"paymentStatus"`
	EntryID                uint64          `json:"entryId"`
	UserID                 uint64          `json:"userId"`
	AddressID              uint64          `json:"addressId"`
	ProductID              uint64          `json:"productId"`
	Amount                 decimal.Decimal `json:"amount"`
	CreatedAt              time.Time       `json:"createdAt"`
}
