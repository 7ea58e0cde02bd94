package ledger

import "errors"

// Store errors.
var (
	// ErrItemNotFound is returned when an operation references an item
	// that does not exist in the ledger.
	ErrItemNotFound = errors.New("ledger: item not found")

	// ErrAlreadyProcessed is returned when an operation targets an item
	// that has already been marked processed.
	ErrAlreadyProcessed = errors.New("ledger: item already processed")

	// ErrQueueEmpty is returned when an operation requires a pending item
	// and none exists.
	ErrQueueEmpty = errors.New("ledger: no pending items")

	// ErrInvalidAmount is returned when a donation amount is negative or
	// not a finite number.
	ErrInvalidAmount = errors.New("ledger: invalid donation amount")

	// ErrClosed is returned when the store is used after Close.
	ErrClosed = errors.New("ledger: store is closed")
)
