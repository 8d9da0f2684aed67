package repositories

import "fmt"

// StoreErrorKind classifies failures raised by non-Firestore stores.
type StoreErrorKind int

const (
	StoreErrorUnknown StoreErrorKind = iota
	StoreErrorNotFound
	StoreErrorConflict
	StoreErrorUnavailable
)

// StoreError implements RepositoryError for the local and in-memory stores.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

// NewStoreError constructs a classified store error.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }
