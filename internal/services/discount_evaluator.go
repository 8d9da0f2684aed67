package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
)

// EvaluateDiscounts applies every active offer, in the order supplied, to the
// lines it matches. Offers stack: a line may be discounted by several offers.
// A percentage rule takes value% of the matched subtotal (rounded half away
// from zero); a fixed rule takes value but never more than the matched subtotal.
func EvaluateDiscounts(lines []domain.CartLine, offers []domain.Offer, now time.Time) DiscountResult {
	result := DiscountResult{AppliedOfferIDs: []string{}}
	if len(lines) == 0 {
		return result
	}
	for _, offer := range offers {
		if offer.Rule == nil || !offer.ActiveAt(now) {
			continue
		}
		matched, ok := matchedSubtotal(lines, *offer.Rule)
		if !ok {
			continue
		}
		result.Amount += ruleDiscount(*offer.Rule, matched)
		result.AppliedOfferIDs = append(result.AppliedOfferIDs, offer.ID)
	}
	return result
}

func matchedSubtotal(lines []domain.CartLine, rule domain.DiscountRule) (int64, bool) {
	var (
		sum     int64
		matched bool
	)
	for _, line := range lines {
		if !ruleMatches(rule, line) {
			continue
		}
		matched = true
		sum += domain.LineGrandTotal(line)
	}
	return sum, matched
}

func ruleMatches(rule domain.DiscountRule, line domain.CartLine) bool {
	switch rule.Scope {
	case domain.DiscountScopeAll, "":
		return true
	case domain.DiscountScopeCategory:
		return strings.TrimSpace(rule.Target) != "" && line.Category == strings.TrimSpace(rule.Target)
	case domain.DiscountScopeProduct:
		return strings.TrimSpace(rule.Target) != "" && line.ProductID == strings.TrimSpace(rule.Target)
	}
	return false
}

func ruleDiscount(rule domain.DiscountRule, matched int64) int64 {
	if matched <= 0 || rule.Value <= 0 || math.IsNaN(rule.Value) || math.IsInf(rule.Value, 0) {
		return 0
	}
	var amount int64
	switch rule.Type {
	case domain.DiscountTypePercentage:
		amount = int64(math.Round(float64(matched) * rule.Value / 100))
	case domain.DiscountTypeFixed:
		amount = int64(math.Round(rule.Value))
	default:
		return 0
	}
	if amount > matched {
		amount = matched
	}
	return amount
}

// DiscountServiceDeps wires the offer-backed discount evaluator.
type DiscountServiceDeps struct {
	Offers   repositories.OfferRepository
	Clock    func() time.Time
	CacheTTL time.Duration
	Logger   func(context.Context, string, map[string]any)
}

// DiscountService loads active offers (cached for CacheTTL) and evaluates them.
type DiscountService struct {
	offers repositories.OfferRepository
	now    func() time.Time
	ttl    time.Duration
	logger func(context.Context, string, map[string]any)

	mu       sync.Mutex
	cached   []domain.Offer
	cachedAt time.Time
}

// NewDiscountService constructs a DiscountService.
func NewDiscountService(deps DiscountServiceDeps) (*DiscountService, error) {
	if deps.Offers == nil {
		return nil, errors.New("discount service: offer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DiscountService{
		offers: deps.Offers,
		now:    func() time.Time { return clock().UTC() },
		ttl:    deps.CacheTTL,
		logger: logger,
	}, nil
}

// Evaluate computes the discount for lines against currently active offers.
func (s *DiscountService) Evaluate(ctx context.Context, lines []domain.CartLine) (DiscountResult, error) {
	now := s.now()
	if len(lines) == 0 {
		return DiscountResult{AppliedOfferIDs: []string{}}, nil
	}
	offers, err := s.activeOffers(ctx, now)
	if err != nil {
		s.logger(ctx, "discounts.fetch_failed", map[string]any{"error": err.Error()})
		return DiscountResult{}, &CartError{Op: CartOpFetch, Err: translateRepoError(err)}
	}
	return EvaluateDiscounts(lines, offers, now), nil
}

func (s *DiscountService) activeOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl > 0 && s.cached != nil && now.Sub(s.cachedAt) < s.ttl {
		return s.cached, nil
	}
	offers, err := s.offers.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	s.cached = offers
	s.cachedAt = now
	return offers, nil
}
