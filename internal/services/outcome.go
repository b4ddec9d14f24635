package services

import "raffle/internal/models"

// Status is the terminal state of one settlement attempt.
type Status string

const (
	StatusSettled Status = "SETTLED"
	StatusFailed  Status = "FAILED"
)

// Reason explains a FAILED settlement.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonEntryNotFound          Reason = "EntryNotFound"
	ReasonProductNotFound        Reason = "ProductNotFound"
	ReasonInvalidStateTransition Reason = "InvalidStateTransition"
	ReasonSettlementInProgress   Reason = "SettlementInProgress"
	ReasonOutOfStock             Reason = "OutOfStock"
	ReasonPaymentDeclined        Reason = "PaymentDeclined"
	ReasonTransient              Reason = "TransientFailure"
	ReasonPanic                  Reason = "Panic"
)

// Outcome is the result of settling one entry.
type Outcome struct {
	EntryID uint64
	Status  Status
	Reason  Reason
	Order   *models.Order
}

// Settled reports whether the entry became a winner with an order.
func (o Outcome) Settled() bool {
	return o.Status == StatusSettled
}
