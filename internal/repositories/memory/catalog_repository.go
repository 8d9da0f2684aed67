package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
)

var errNotFound = errors.New("not found")

func notFound(op string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, errNotFound)
}

// CatalogRepository holds products and extras in memory.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	extras   map[string]domain.Extra
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs an empty catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		products: make(map[string]domain.Product),
		extras:   make(map[string]domain.Extra),
	}
}

// PutProduct inserts or replaces a product.
func (r *CatalogRepository) PutProduct(p domain.Product) {
	r.mu.Lock()
	r.products[p.ID] = p
	r.mu.Unlock()
}

// DeleteProduct removes a product, leaving any bundle references dangling.
func (r *CatalogRepository) DeleteProduct(id string) {
	r.mu.Lock()
	delete(r.products, id)
	r.mu.Unlock()
}

// PutExtra inserts or replaces an extra.
func (r *CatalogRepository) PutExtra(e domain.Extra) {
	r.mu.Lock()
	r.extras[e.ID] = e
	r.mu.Unlock()
}

// GetProduct returns the product or a not-found repository error.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, notFound("memory_catalog.get_product")
	}
	return p, nil
}

// ListItems returns simple items ordered by id.
func (r *CatalogRepository) ListItems(ctx context.Context) ([]domain.Product, error) {
	return r.list(domain.ProductKindSimple), nil
}

// ListBundles returns bundles ordered by id.
func (r *CatalogRepository) ListBundles(ctx context.Context) ([]domain.Product, error) {
	return r.list(domain.ProductKindBundle), nil
}

// GetExtras returns known extras in request order.
func (r *CatalogRepository) GetExtras(ctx context.Context, ids []string) ([]domain.Extra, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Extra, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.extras[strings.TrimSpace(id)]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *CatalogRepository) list(kind domain.ProductKind) []domain.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OfferRepository holds offers in insertion order.
type OfferRepository struct {
	mu     sync.RWMutex
	offers []domain.Offer
}

var _ repositories.OfferRepository = (*OfferRepository)(nil)

// NewOfferRepository constructs an offer repository seeded with offers.
func NewOfferRepository(offers ...domain.Offer) *OfferRepository {
	return &OfferRepository{offers: append([]domain.Offer(nil), offers...)}
}

// Put appends an offer.
func (r *OfferRepository) Put(offer domain.Offer) {
	r.mu.Lock()
	r.offers = append(r.offers, offer)
	r.mu.Unlock()
}

// ListActive returns offers active at now in insertion order.
func (r *OfferRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Offer, 0, len(r.offers))
	for _, o := range r.offers {
		if o.ActiveAt(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// SettingsRepository holds optional store settings.
type SettingsRepository struct {
	mu       sync.RWMutex
	settings *domain.StoreSettings
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a repository; nil settings behave as not yet written.
func NewSettingsRepository(settings *domain.StoreSettings) *SettingsRepository {
	return &SettingsRepository{settings: settings}
}

// Set replaces the stored settings.
func (r *SettingsRepository) Set(settings domain.StoreSettings) {
	r.mu.Lock()
	r.settings = &settings
	r.mu.Unlock()
}

// GetStoreSettings returns the settings or a not-found repository error.
func (r *SettingsRepository) GetStoreSettings(ctx context.Context) (domain.StoreSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return domain.StoreSettings{}, notFound("memory_settings.get")
	}
	return *r.settings, nil
}

// CustomerRepository holds customers keyed by id.
type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs an empty customer repository.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]domain.Customer)}
}

// Put inserts or replaces a customer.
func (r *CustomerRepository) Put(c domain.Customer) {
	r.mu.Lock()
	r.customers[c.ID] = c
	r.mu.Unlock()
}

// GetCustomer returns the customer or a not-found repository error.
func (r *CustomerRepository) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[strings.TrimSpace(customerID)]
	if !ok {
		return domain.Customer{}, notFound("memory_customers.get")
	}
	return c, nil
}
