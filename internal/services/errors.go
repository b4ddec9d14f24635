package services

import "errors"

var (
	// ErrProductNotFound covers missing products and products that are not
	// open for entries.
	ErrProductNotFound = errors.New("product not found")
	// ErrAddressNotFound covers missing addresses and addresses owned by
	// another user.
	ErrAddressNotFound = errors.New("address not found")
	// ErrEntryClosed is returned when the user already holds an entry for the
	// product that is no longer pending.
	ErrEntryClosed = errors.New("raffle entry already settled")
	// ErrTransient marks infrastructure failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
	// ErrRaffleInProgress is returned when a raffle run is already going.
	ErrRaffleInProgress = errors.New("raffle already in progress")
)
