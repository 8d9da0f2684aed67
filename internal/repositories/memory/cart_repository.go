// Package memory provides in-process repositories for local development and tests.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
)

// CartRepository is an in-memory account cart store with change notifications.
type CartRepository struct {
	mu       sync.Mutex
	carts    map[string][]domain.CartLine
	watchers map[string]map[int]repositories.CartWatchHandler
	nextID   int
	failErr  error
}

var _ repositories.AccountCartRepository = (*CartRepository)(nil)

// NewCartRepository constructs an empty repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts:    make(map[string][]domain.CartLine),
		watchers: make(map[string]map[int]repositories.CartWatchHandler),
	}
}

// FailWrites makes every subsequent write return err until called with nil.
func (r *CartRepository) FailWrites(err error) {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
}

// Load returns a copy of the owner's lines.
func (r *CartRepository) Load(ctx context.Context, owner string) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.CloneLines(r.carts[strings.TrimSpace(owner)]), nil
}

// Save overwrites the owner's lines.
func (r *CartRepository) Save(ctx context.Context, owner string, lines []domain.CartLine) error {
	_, err := r.Mutate(ctx, owner, func([]domain.CartLine) ([]domain.CartLine, error) {
		return lines, nil
	})
	return err
}

// Mutate applies fn atomically with respect to other writers.
func (r *CartRepository) Mutate(ctx context.Context, owner string, fn repositories.CartMutation) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, repositories.NewStoreError("memory_cart.mutate", repositories.StoreErrorUnknown, errors.New("owner is required"))
	}

	r.mu.Lock()
	if r.failErr != nil {
		err := r.failErr
		r.mu.Unlock()
		return nil, err
	}
	next, err := fn(domain.CloneLines(r.carts[owner]))
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	stored := domain.CloneLines(next)
	if len(stored) == 0 {
		delete(r.carts, owner)
	} else {
		r.carts[owner] = stored
	}
	handlers := r.handlersLocked(owner)
	r.mu.Unlock()

	for _, h := range handlers {
		h(domain.CloneLines(stored), nil)
	}
	return domain.CloneLines(stored), nil
}

// Clear empties the owner's cart.
func (r *CartRepository) Clear(ctx context.Context, owner string) error {
	return r.Save(ctx, owner, nil)
}

// Watch delivers the current lines immediately and again after every write.
func (r *CartRepository) Watch(ctx context.Context, owner string, handler repositories.CartWatchHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("memory cart: watch handler is required")
	}
	owner = strings.TrimSpace(owner)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.watchers[owner] == nil {
		r.watchers[owner] = make(map[int]repositories.CartWatchHandler)
	}
	r.watchers[owner][id] = handler
	current := domain.CloneLines(r.carts[owner])
	r.mu.Unlock()

	handler(current, nil)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers[owner], id)
			if len(r.watchers[owner]) == 0 {
				delete(r.watchers, owner)
			}
			r.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

// WatcherCount reports active watchers for owner.
func (r *CartRepository) WatcherCount(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers[strings.TrimSpace(owner)])
}

func (r *CartRepository) handlersLocked(owner string) []repositories.CartWatchHandler {
	out := make([]repositories.CartWatchHandler, 0, len(r.watchers[owner]))
	for _, h := range r.watchers[owner] {
		out = append(out, h)
	}
	return out
}
