package store

import "github.com/pkg/errors"

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrAddressNotFound     = errors.New("address not found")
	ErrEntryNotFound       = errors.New("raffle entry not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrDuplicateEntry is returned when the (product, user) unique index
	// already holds an entry.
	ErrDuplicateEntry = errors.New("raffle entry already exists for product and user")
	// ErrDuplicateOrder is returned when an order already exists for the entry.
	ErrDuplicateOrder = errors.New("order already exists for raffle entry")
	// ErrInvalidStateTransition is returned when an entry is no longer pending.
	ErrInvalidStateTransition = errors.New("raffle entry is not pending")
	// ErrReservationExists is returned when the entry is already being settled.
	ErrReservationExists = errors.New("stock already reserved for raffle entry")
	// ErrStockReserved is returned when a product's quantity is rewritten
	// while some of its units are reserved for settlement.
	ErrStockReserved = errors.New("product stock is reserved for settlement")
)

// IsDomainError reports whether err is one of the sentinel errors above.
// Anything else coming out of the store is an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrProductNotFound,
		ErrAddressNotFound,
		ErrEntryNotFound,
		ErrOrderNotFound,
		ErrReservationNotFound,
		ErrDuplicateEntry,
		ErrDuplicateOrder,
		ErrInvalidStateTransition,
		ErrReservationExists,
		ErrStockReserved,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
