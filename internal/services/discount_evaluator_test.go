package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
	"github.com/baqala/storefront/internal/repositories/memory"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discountLines() []domain.CartLine {
	return []domain.CartLine{
		{ID: "tea", ProductID: "tea", Category: "Beverages", UnitPrice: 1000, Quantity: 1},
		{ID: "bread", ProductID: "bread", Category: "Bakery", UnitPrice: 250, Quantity: 2},
	}
}

func activeOffer(id string, rule *domain.DiscountRule) domain.Offer {
	return domain.Offer{ID: id, ExpiresAt: evalNow.Add(time.Hour), Rule: rule}
}

func TestEvaluateDiscountsCategoryScope(t *testing.T) {
	offers := []domain.Offer{
		activeOffer("drinks-15", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeCategory, Target: "Beverages", Value: 15}),
	}

	got := EvaluateDiscounts(discountLines(), offers, evalNow)
	if got.Amount != 150 {
		t.Fatalf("expected discount 150, got %d", got.Amount)
	}
	if len(got.AppliedOfferIDs) != 1 || got.AppliedOfferIDs[0] != "drinks-15" {
		t.Fatalf("unexpected applied offers: %v", got.AppliedOfferIDs)
	}
}

func TestEvaluateDiscountsEmptyInputs(t *testing.T) {
	offers := []domain.Offer{activeOffer("all-10", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeAll, Value: 10})}

	got := EvaluateDiscounts(nil, offers, evalNow)
	if got.Amount != 0 || got.AppliedOfferIDs == nil || len(got.AppliedOfferIDs) != 0 {
		t.Fatalf("expected zero discount with empty ids for empty cart, got %+v", got)
	}
	got = EvaluateDiscounts(discountLines(), nil, evalNow)
	if got.Amount != 0 || got.AppliedOfferIDs == nil || len(got.AppliedOfferIDs) != 0 {
		t.Fatalf("expected zero discount with empty ids without offers, got %+v", got)
	}
}

func TestEvaluateDiscountsSkipsExpiredAndDisplayOnlyOffers(t *testing.T) {
	expired := activeOffer("old", &domain.DiscountRule{Type: domain.DiscountTypeFixed, Scope: domain.DiscountScopeAll, Value: 100})
	expired.ExpiresAt = evalNow
	offers := []domain.Offer{expired, activeOffer("banner", nil)}

	got := EvaluateDiscounts(discountLines(), offers, evalNow)
	if got.Amount != 0 || len(got.AppliedOfferIDs) != 0 {
		t.Fatalf("expected no discount, got %+v", got)
	}
}

func TestEvaluateDiscountsFixedClampsToMatchedSubtotal(t *testing.T) {
	offers := []domain.Offer{
		activeOffer("bread-off", &domain.DiscountRule{Type: domain.DiscountTypeFixed, Scope: domain.DiscountScopeProduct, Target: "bread", Value: 900}),
	}

	got := EvaluateDiscounts(discountLines(), offers, evalNow)
	if got.Amount != 500 {
		t.Fatalf("expected discount clamped to 500, got %d", got.Amount)
	}
}

func TestEvaluateDiscountsStacksInSuppliedOrder(t *testing.T) {
	offers := []domain.Offer{
		activeOffer("fixed-100", &domain.DiscountRule{Type: domain.DiscountTypeFixed, Scope: domain.DiscountScopeAll, Value: 100}),
		activeOffer("missing-category", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeCategory, Target: "Dairy", Value: 50}),
		activeOffer("all-10", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeAll, Value: 10}),
	}

	got := EvaluateDiscounts(discountLines(), offers, evalNow)
	if got.Amount != 250 {
		t.Fatalf("expected stacked discount 250, got %d", got.Amount)
	}
	if len(got.AppliedOfferIDs) != 2 || got.AppliedOfferIDs[0] != "fixed-100" || got.AppliedOfferIDs[1] != "all-10" {
		t.Fatalf("unexpected applied offer order: %v", got.AppliedOfferIDs)
	}
}

func TestEvaluateDiscountsIgnoresInvalidValues(t *testing.T) {
	for _, value := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		offers := []domain.Offer{activeOffer("bad", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeAll, Value: value})}
		got := EvaluateDiscounts(discountLines(), offers, evalNow)
		if got.Amount != 0 {
			t.Fatalf("value %v: expected zero discount, got %d", value, got.Amount)
		}
	}
}

func TestEvaluateDiscountsPercentageRoundsHalfUp(t *testing.T) {
	lines := []domain.CartLine{{ID: "gum", ProductID: "gum", UnitPrice: 5, Quantity: 1}}
	offers := []domain.Offer{activeOffer("half", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeAll, Value: 50})}

	if got := EvaluateDiscounts(lines, offers, evalNow); got.Amount != 3 {
		t.Fatalf("expected rounded discount 3, got %d", got.Amount)
	}
}

type stubOfferRepo struct {
	offers []domain.Offer
	err    error
	calls  int
}

func (s *stubOfferRepo) ListActive(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.offers, nil
}

func TestDiscountServiceCachesOffers(t *testing.T) {
	repo := &stubOfferRepo{offers: []domain.Offer{
		activeOffer("all-10", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeAll, Value: 10}),
	}}
	now := evalNow
	svc, err := NewDiscountService(DiscountServiceDeps{
		Offers:   repo,
		Clock:    func() time.Time { return now },
		CacheTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewDiscountService: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := svc.Evaluate(context.Background(), discountLines())
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if got.Amount != 150 {
			t.Fatalf("expected discount 150, got %d", got.Amount)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("expected offers loaded once, got %d", repo.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.Evaluate(context.Background(), discountLines()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected cache refresh after ttl, got %d calls", repo.calls)
	}
}

func TestDiscountServiceReportsFetchFailure(t *testing.T) {
	cause := repositories.NewStoreError("offers.list", repositories.StoreErrorUnavailable, errors.New("backend down"))
	svc, err := NewDiscountService(DiscountServiceDeps{Offers: &stubOfferRepo{err: cause}})
	if err != nil {
		t.Fatalf("NewDiscountService: %v", err)
	}

	_, err = svc.Evaluate(context.Background(), discountLines())
	var cartErr *CartError
	if !errors.As(err, &cartErr) || cartErr.Op != CartOpFetch {
		t.Fatalf("expected fetch cart error, got %v", err)
	}
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable sentinel, got %v", err)
	}
}

func TestDiscountServiceWithMemoryOffers(t *testing.T) {
	offers := memory.NewOfferRepository(
		activeOffer("drinks-15", &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeCategory, Target: "Beverages", Value: 15}),
	)
	svc, err := NewDiscountService(DiscountServiceDeps{Offers: offers, Clock: func() time.Time { return evalNow }})
	if err != nil {
		t.Fatalf("NewDiscountService: %v", err)
	}

	got, err := svc.Evaluate(context.Background(), discountLines())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Amount != 150 {
		t.Fatalf("expected discount 150, got %d", got.Amount)
	}
}
