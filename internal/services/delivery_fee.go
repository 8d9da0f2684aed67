package services

import (
	"context"
	"errors"
	"strings"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
)

// DefaultDeliveryFee applies when store settings have not been loaded.
const DefaultDeliveryFee int64 = 500

// ResolveDeliveryFee picks the fee by precedence: pickup is free, then the
// customer's override, then the store default, then fallback.
func ResolveDeliveryFee(method domain.DeliveryMethod, customer *domain.Customer, settings *domain.StoreSettings, fallback int64) int64 {
	if method == domain.DeliveryMethodPickup {
		return 0
	}
	if customer != nil && customer.DeliveryFeeOverride != nil {
		return *customer.DeliveryFeeOverride
	}
	if settings != nil {
		return settings.DeliveryFee
	}
	return fallback
}

// ParseDeliveryMethod normalises a client-supplied method; empty means delivery.
func ParseDeliveryMethod(raw string) (domain.DeliveryMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(domain.DeliveryMethodDelivery):
		return domain.DeliveryMethodDelivery, nil
	case string(domain.DeliveryMethodPickup):
		return domain.DeliveryMethodPickup, nil
	}
	return "", ErrCartInvalidInput
}

// DeliveryFeeServiceDeps wires DeliveryFeeService.
type DeliveryFeeServiceDeps struct {
	Settings  repositories.SettingsRepository
	Customers repositories.CustomerRepository
	// Fallback applies when store settings are missing or unreadable. Zero
	// or negative selects DefaultDeliveryFee; free delivery is set in store settings.
	Fallback int64
	Logger   func(context.Context, string, map[string]any)
}

// DeliveryFeeService loads settings and customer overrides for ResolveDeliveryFee.
type DeliveryFeeService struct {
	settings  repositories.SettingsRepository
	customers repositories.CustomerRepository
	fallback  int64
	logger    func(context.Context, string, map[string]any)
}

// NewDeliveryFeeService constructs the service. Customers may be nil when no overrides exist.
func NewDeliveryFeeService(deps DeliveryFeeServiceDeps) (*DeliveryFeeService, error) {
	if deps.Settings == nil {
		return nil, errors.New("delivery fee service: settings repository is required")
	}
	fallback := deps.Fallback
	if fallback <= 0 {
		fallback = DefaultDeliveryFee
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DeliveryFeeService{
		settings:  deps.Settings,
		customers: deps.Customers,
		fallback:  fallback,
		logger:    logger,
	}, nil
}

// Fee resolves the delivery fee. Pickup short-circuits without any lookups.
// Settings that cannot be loaded fall back to the configured default; a
// customer lookup failure other than not-found is returned so the override is
// never silently skipped.
func (s *DeliveryFeeService) Fee(ctx context.Context, method domain.DeliveryMethod, uid string) (int64, error) {
	if method == domain.DeliveryMethodPickup {
		return 0, nil
	}

	var customer *domain.Customer
	if uid = strings.TrimSpace(uid); uid != "" && s.customers != nil {
		c, err := s.customers.GetCustomer(ctx, uid)
		switch {
		case err == nil:
			customer = &c
		case isRepoNotFound(err):
		default:
			return 0, &CartError{Op: CartOpFetch, Err: translateRepoError(err)}
		}
	}

	var settings *domain.StoreSettings
	st, err := s.settings.GetStoreSettings(ctx)
	switch {
	case err == nil:
		settings = &st
	case isRepoNotFound(err):
	default:
		s.logger(ctx, "delivery_fee.settings_unavailable", map[string]any{"error": err.Error()})
	}

	return ResolveDeliveryFee(method, customer, settings, s.fallback), nil
}
