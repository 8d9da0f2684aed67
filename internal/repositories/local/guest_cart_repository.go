// Package local holds device-scoped repositories backed by the local store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/platform/localstore"
	"github.com/baqala/storefront/internal/repositories"
)

const guestCartKeyPrefix = "cart:"

// GuestCartRepository stores guest carts as JSON line lists keyed by device id.
type GuestCartRepository struct {
	store *localstore.Store
}

var _ repositories.CartStore = (*GuestCartRepository)(nil)

// NewGuestCartRepository wraps an opened local store.
func NewGuestCartRepository(store *localstore.Store) (*GuestCartRepository, error) {
	if store == nil {
		return nil, errors.New("guest cart repository requires local store")
	}
	return &GuestCartRepository{store: store}, nil
}

// Load returns the device's lines, or an empty list when none are stored.
func (r *GuestCartRepository) Load(ctx context.Context, deviceID string) ([]domain.CartLine, error) {
	key, err := guestKey(deviceID)
	if err != nil {
		return nil, err
	}
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, wrap("guest_cart.load", err)
	}
	return decodeLines(raw)
}

// Save overwrites the device's lines.
func (r *GuestCartRepository) Save(ctx context.Context, deviceID string, lines []domain.CartLine) error {
	key, err := guestKey(deviceID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return wrap("guest_cart.save", r.store.Remove(ctx, key))
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("guest cart: encode lines: %w", err)
	}
	return wrap("guest_cart.save", r.store.Set(ctx, key, raw))
}

// Mutate applies fn to the stored lines inside one bbolt write transaction.
func (r *GuestCartRepository) Mutate(ctx context.Context, deviceID string, fn repositories.CartMutation) ([]domain.CartLine, error) {
	key, err := guestKey(deviceID)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("guest cart: mutation is required")
	}
	var result []domain.CartLine
	_, err = r.store.Update(ctx, key, func(current []byte) ([]byte, error) {
		lines, err := decodeLines(current)
		if err != nil {
			return nil, err
		}
		next, err := fn(lines)
		if err != nil {
			return nil, err
		}
		result = next
		if len(next) == 0 {
			return nil, nil
		}
		return json.Marshal(next)
	})
	if err != nil {
		return nil, wrap("guest_cart.mutate", err)
	}
	return domain.CloneLines(result), nil
}

// Clear removes the device's cart.
func (r *GuestCartRepository) Clear(ctx context.Context, deviceID string) error {
	key, err := guestKey(deviceID)
	if err != nil {
		return err
	}
	return wrap("guest_cart.clear", r.store.Remove(ctx, key))
}

func guestKey(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", repositories.NewStoreError("guest_cart", repositories.StoreErrorUnknown, errors.New("device id is required"))
	}
	return guestCartKeyPrefix + deviceID, nil
}

func decodeLines(raw []byte) ([]domain.CartLine, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var lines []domain.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("guest cart: decode lines: %w", err)
	}
	return lines, nil
}

// wrap classifies store failures; callback errors and context errors pass through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, localstore.ErrClosed) {
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
	}
	return err
}
