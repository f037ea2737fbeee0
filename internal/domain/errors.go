package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrValidation is returned for malformed input rejected before touching the ledger
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is matched by every InsufficientStockError
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition is matched by every InvalidTransitionError
	ErrInvalidTransition = errors.New("invalid transfer transition")

	// ErrAlreadyCredited is returned when a credit with the same related id and kind exists
	ErrAlreadyCredited = errors.New("source already credited")

	// ErrNotFound is returned when a stock item or transfer does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnitMismatch is returned when a credit names a different unit than the existing row
	ErrUnitMismatch = fmt.Errorf("%w: unit does not match existing stock item", ErrValidation)

	// ErrSameDecider is returned when a transfer is approved by its own requester
	ErrSameDecider = fmt.Errorf("%w: approver must differ from requester", ErrValidation)
)

// InsufficientStockError carries the balance that was available when the debit was refused
type InsufficientStockError struct {
	Key       StockKey
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Key, e.Available, e.Requested)
}

// Is makes errors.Is(err, ErrInsufficientStock) succeed
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidTransitionError is returned when a decided transfer is acted on again
type InvalidTransitionError struct {
	TransferID string
	From       TransferStatus
	Action     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s transfer %s in status %s", e.Action, e.TransferID, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
