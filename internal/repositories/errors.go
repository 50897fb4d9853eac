package repositories

import "fmt"

type storeErrorKind int

const (
	kindNotFound storeErrorKind = iota + 1
	kindConflict
	kindUnavailable
)

// StoreError is the RepositoryError returned by the in-process store.
type StoreError struct {
	Op      string
	Message string
	kind    storeErrorKind
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, message string) *StoreError {
	return &StoreError{Op: op, Message: message, kind: kindNotFound}
}

// NewConflictError reports a uniqueness or concurrency conflict.
func NewConflictError(op, message string) *StoreError {
	return &StoreError{Op: op, Message: message, kind: kindConflict}
}

// NewUnavailableError reports a transient failure.
func NewUnavailableError(op, message string) *StoreError {
	return &StoreError{Op: op, Message: message, kind: kindUnavailable}
}

func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }
