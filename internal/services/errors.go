package services

import (
	"errors"
	"fmt"

	"github.com/baqala/storefront/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartUnavailable indicates a backing store could not serve the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
	// ErrCartConflict indicates a transaction lost against a concurrent writer.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartLineNotFound indicates the referenced line is not in the cart.
	ErrCartLineNotFound = errors.New("cart service: line not found")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("cart service: product not found")
	// ErrExtraNotAllowed indicates extras were requested for a product that cannot carry them.
	ErrExtraNotAllowed = errors.New("cart service: extra not allowed")
	// ErrSessionClosed indicates the session was used after Close.
	ErrSessionClosed = errors.New("cart service: session closed")

	errCartGuestStoreRequired   = errors.New("cart service: guest store is required")
	errCartAccountStoreRequired = errors.New("cart service: account store is required")
	errCartCatalogRequired      = errors.New("cart service: catalog repository is required")
	errCartDiscountsRequired    = errors.New("cart service: discount evaluator is required")
	errCartFeesRequired         = errors.New("cart service: delivery fee resolver is required")
)

// CartOp names the cart operation that failed.
type CartOp string

const (
	CartOpFetch  CartOp = "fetch"
	CartOpAdd    CartOp = "add"
	CartOpUpdate CartOp = "update"
	CartOpRemove CartOp = "remove"
	CartOpClear  CartOp = "clear"
	CartOpMerge  CartOp = "merge"
)

// CartError is the typed failure a cart session records and returns.
type CartError struct {
	Op  CartOp
	Err error
}

// Error implements the error interface.
func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cart %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *CartError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newCartError(op CartOp, err error) *CartError {
	return &CartError{Op: op, Err: translateRepoError(err)}
}

// translateRepoError maps repository failures onto service sentinels while
// keeping the original error in the chain.
func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsConflict():
		return fmt.Errorf("%w: %w", ErrCartConflict, err)
	case repoErr.IsUnavailable():
		return fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
