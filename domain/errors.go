package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound is returned when no usable credential exists for
	// the given lookup key. Expired and deactivated credentials are reported
	// the same way so callers always route the user back through connect.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrPageNotFound is returned when an operation references a page id that
	// is not among the credential's linked pages.
	ErrPageNotFound = errors.New("page not found")

	// ErrVersionConflict is returned when an optimistic-concurrency update
	// lost a race with a concurrent writer. The operation is retryable.
	ErrVersionConflict = errors.New("credential version conflict")
)

// StoreError wraps an underlying persistence failure. It is the one error
// category allowed to propagate out of the token store; the HTTP caller
// decides how to respond.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the failing operation name.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
