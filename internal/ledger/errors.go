package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSameAccount         = errors.New("source and destination account are the same")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrStorage             = errors.New("storage failure")
)

// ValidationError rejects input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientFundsError is returned by funds-checked operations only.
type InsufficientFundsError struct {
	AccountID string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: balance %d, requested %d", e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps an infrastructure failure. It matches both ErrStorage
// and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it already carries a ledger error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if isLedgerError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isLedgerError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInsufficientFunds, ErrSameAccount,
		ErrNotFound, ErrConcurrencyConflict, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Retryable reports whether the same idempotency key may be retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStorage)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
