package services

import (
	"context"
	"errors"
	"testing"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
	"github.com/baqala/storefront/internal/repositories/memory"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolveDeliveryFeePrecedence(t *testing.T) {
	settings := &domain.StoreSettings{DeliveryFee: 500}
	override := &domain.Customer{ID: "u1", DeliveryFeeOverride: int64Ptr(300)}

	if got := ResolveDeliveryFee(domain.DeliveryMethodPickup, override, settings, DefaultDeliveryFee); got != 0 {
		t.Fatalf("expected pickup to be free, got %d", got)
	}
	if got := ResolveDeliveryFee(domain.DeliveryMethodDelivery, override, settings, DefaultDeliveryFee); got != 300 {
		t.Fatalf("expected override 300, got %d", got)
	}
	if got := ResolveDeliveryFee(domain.DeliveryMethodDelivery, &domain.Customer{ID: "u2"}, settings, DefaultDeliveryFee); got != 500 {
		t.Fatalf("expected store default 500, got %d", got)
	}
	if got := ResolveDeliveryFee(domain.DeliveryMethodDelivery, nil, nil, 650); got != 650 {
		t.Fatalf("expected fallback 650, got %d", got)
	}
	if got := ResolveDeliveryFee(domain.DeliveryMethodDelivery, &domain.Customer{DeliveryFeeOverride: int64Ptr(0)}, settings, DefaultDeliveryFee); got != 0 {
		t.Fatalf("expected zero override to win, got %d", got)
	}
}

func TestParseDeliveryMethod(t *testing.T) {
	cases := map[string]domain.DeliveryMethod{
		"":           domain.DeliveryMethodDelivery,
		"delivery":   domain.DeliveryMethodDelivery,
		" PICKUP ":   domain.DeliveryMethodPickup,
		"Delivery\n": domain.DeliveryMethodDelivery,
	}
	for raw, want := range cases {
		got, err := ParseDeliveryMethod(raw)
		if err != nil {
			t.Fatalf("ParseDeliveryMethod(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseDeliveryMethod(%q) = %s, want %s", raw, got, want)
		}
	}
	if _, err := ParseDeliveryMethod("drone"); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type failingCustomers struct{ err error }

func (f failingCustomers) GetCustomer(context.Context, string) (domain.Customer, error) {
	return domain.Customer{}, f.err
}

type failingSettings struct{ err error }

func (f failingSettings) GetStoreSettings(context.Context) (domain.StoreSettings, error) {
	return domain.StoreSettings{}, f.err
}

func TestDeliveryFeeServiceFee(t *testing.T) {
	customers := memory.NewCustomerRepository()
	customers.Put(domain.Customer{ID: "vip", DeliveryFeeOverride: int64Ptr(300)})
	svc, err := NewDeliveryFeeService(DeliveryFeeServiceDeps{
		Settings:  memory.NewSettingsRepository(&domain.StoreSettings{DeliveryFee: 500}),
		Customers: customers,
		Fallback:  DefaultDeliveryFee,
	})
	if err != nil {
		t.Fatalf("NewDeliveryFeeService: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		method domain.DeliveryMethod
		uid    string
		want   int64
	}{
		{domain.DeliveryMethodPickup, "vip", 0},
		{domain.DeliveryMethodDelivery, "vip", 300},
		{domain.DeliveryMethodDelivery, "regular", 500},
		{domain.DeliveryMethodDelivery, "", 500},
	}
	for _, tc := range cases {
		got, err := svc.Fee(ctx, tc.method, tc.uid)
		if err != nil {
			t.Fatalf("Fee(%s, %q): %v", tc.method, tc.uid, err)
		}
		if got != tc.want {
			t.Fatalf("Fee(%s, %q) = %d, want %d", tc.method, tc.uid, got, tc.want)
		}
	}
}

func TestDeliveryFeeServiceFallsBackWithoutSettings(t *testing.T) {
	svc, err := NewDeliveryFeeService(DeliveryFeeServiceDeps{
		Settings: failingSettings{err: errors.New("timeout")},
		Fallback: 750,
	})
	if err != nil {
		t.Fatalf("NewDeliveryFeeService: %v", err)
	}

	got, err := svc.Fee(context.Background(), domain.DeliveryMethodDelivery, "")
	if err != nil {
		t.Fatalf("Fee: %v", err)
	}
	if got != 750 {
		t.Fatalf("expected fallback 750, got %d", got)
	}

	svc, _ = NewDeliveryFeeService(DeliveryFeeServiceDeps{Settings: memory.NewSettingsRepository(nil), Fallback: 600})
	if got, _ := svc.Fee(context.Background(), domain.DeliveryMethodDelivery, ""); got != 600 {
		t.Fatalf("expected fallback 600 for missing settings, got %d", got)
	}
}

func TestDeliveryFeeServiceDefaultsFallback(t *testing.T) {
	for _, fallback := range []int64{0, -1} {
		svc, err := NewDeliveryFeeService(DeliveryFeeServiceDeps{Settings: memory.NewSettingsRepository(nil), Fallback: fallback})
		if err != nil {
			t.Fatalf("NewDeliveryFeeService: %v", err)
		}
		got, err := svc.Fee(context.Background(), domain.DeliveryMethodDelivery, "")
		if err != nil {
			t.Fatalf("Fee: %v", err)
		}
		if got != DefaultDeliveryFee {
			t.Fatalf("fallback %d: expected default fee %d, got %d", fallback, DefaultDeliveryFee, got)
		}
	}

	svc, _ := NewDeliveryFeeService(DeliveryFeeServiceDeps{Settings: memory.NewSettingsRepository(&domain.StoreSettings{DeliveryFee: 0})})
	if got, _ := svc.Fee(context.Background(), domain.DeliveryMethodDelivery, ""); got != 0 {
		t.Fatalf("expected free delivery from store settings, got %d", got)
	}
}

func TestDeliveryFeeServiceCustomerFailure(t *testing.T) {
	cause := repositories.NewStoreError("customers.get", repositories.StoreErrorUnavailable, errors.New("down"))
	svc, err := NewDeliveryFeeService(DeliveryFeeServiceDeps{
		Settings:  memory.NewSettingsRepository(&domain.StoreSettings{DeliveryFee: 500}),
		Customers: failingCustomers{err: cause},
	})
	if err != nil {
		t.Fatalf("NewDeliveryFeeService: %v", err)
	}

	_, err = svc.Fee(context.Background(), domain.DeliveryMethodDelivery, "vip")
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got, err := svc.Fee(context.Background(), domain.DeliveryMethodPickup, "vip"); err != nil || got != 0 {
		t.Fatalf("expected pickup to skip lookups, got %d, %v", got, err)
	}
}
