package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/baqala/storefront/internal/domain"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/repositories"
)

const (
	settingsCollection = "settings"
	storeSettingsDoc   = "store"
	customerCollection = "customers"
)

type storeSettingsDocument struct {
	DeliveryFee int64     `firestore:"deliveryFee"`
	Currency    string    `firestore:"currency"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type customerDocument struct {
	DeliveryFeeOverride *int64 `firestore:"deliveryFeeOverride"`
}

// SettingsRepository reads settings/store.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[storeSettingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{base: pfirestore.NewBaseRepository[storeSettingsDocument](provider, settingsCollection, nil)}, nil
}

// GetStoreSettings loads the store-wide settings document.
func (r *SettingsRepository) GetStoreSettings(ctx context.Context) (domain.StoreSettings, error) {
	doc, err := r.base.Get(ctx, storeSettingsDoc)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	return domain.StoreSettings{
		DeliveryFee: doc.Data.DeliveryFee,
		Currency:    strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		UpdatedAt:   doc.Data.UpdatedAt,
	}, nil
}

// CustomerRepository reads customers/{uid}.
type CustomerRepository struct {
	base *pfirestore.BaseRepository[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{base: pfirestore.NewBaseRepository[customerDocument](provider, customerCollection, nil)}, nil
}

// GetCustomer loads the customer's pricing overrides.
func (r *CustomerRepository) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	doc, err := r.base.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	customer := domain.Customer{ID: customerID}
	if override := doc.Data.DeliveryFeeOverride; override != nil {
		value := *override
		customer.DeliveryFeeOverride = &value
	}
	return customer, nil
}
