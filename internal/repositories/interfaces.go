package repositories

import (
	"context"
	"time"

	"github.com/baqala/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartMutation receives the freshly read line list and returns the list to persist.
// It may run more than once when the backing store retries a contended transaction.
type CartMutation func(lines []domain.CartLine) ([]domain.CartLine, error)

// CartStore is a persisted, owner-keyed list of cart lines. A missing cart
// loads as an empty list, never as an error.
type CartStore interface {
	Load(ctx context.Context, owner string) ([]domain.CartLine, error)
	Save(ctx context.Context, owner string, lines []domain.CartLine) error
	Mutate(ctx context.Context, owner string, fn CartMutation) ([]domain.CartLine, error)
	Clear(ctx context.Context, owner string) error
}

// CartWatchHandler receives every remote change to a watched cart.
type CartWatchHandler func(lines []domain.CartLine, err error)

// AccountCartRepository is the identity-scoped cart store with live change notifications.
type AccountCartRepository interface {
	CartStore
	Watch(ctx context.Context, owner string, handler CartWatchHandler) (stop func(), err error)
}

// CatalogRepository reads products and extras.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListItems(ctx context.Context) ([]domain.Product, error)
	ListBundles(ctx context.Context) ([]domain.Product, error)
	// GetExtras returns the extras that exist, in request order. Unknown ids are omitted.
	GetExtras(ctx context.Context, ids []string) ([]domain.Extra, error)
}

// OfferRepository lists promotions that have not expired at now, in evaluation order.
type OfferRepository interface {
	ListActive(ctx context.Context, now time.Time) ([]domain.Offer, error)
}

// SettingsRepository loads store-wide settings.
type SettingsRepository interface {
	GetStoreSettings(ctx context.Context) (domain.StoreSettings, error)
}

// CustomerRepository loads per-customer pricing overrides.
type CustomerRepository interface {
	GetCustomer(ctx context.Context, customerID string) (domain.Customer, error)
}
