package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/baqala/storefront/internal/domain"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/repositories"
)

const offerCollection = "offers"

type offerDocument struct {
	Title     map[string]string     `firestore:"title"`
	Image     string                `firestore:"image"`
	ExpiresAt time.Time             `firestore:"expiresAt"`
	Rule      *discountRuleDocument `firestore:"discount"`
}

type discountRuleDocument struct {
	Type   string  `firestore:"type"`
	Scope  string  `firestore:"scope"`
	Target string  `firestore:"target"`
	Value  float64 `firestore:"value"`
}

// OfferRepository lists promotional offers.
type OfferRepository struct {
	base *pfirestore.BaseRepository[offerDocument]
}

var _ repositories.OfferRepository = (*OfferRepository)(nil)

// NewOfferRepository constructs a Firestore-backed offer repository.
func NewOfferRepository(provider *pfirestore.Provider) (*OfferRepository, error) {
	if provider == nil {
		return nil, errors.New("offer repository requires firestore provider")
	}
	return &OfferRepository{base: pfirestore.NewBaseRepository[offerDocument](provider, offerCollection, nil)}, nil
}

// ListActive returns offers whose expiry is after now, soonest-expiring first.
func (r *OfferRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", ">", now.UTC()).OrderBy("expiresAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Offer, 0, len(docs))
	for _, doc := range docs {
		offer := domain.Offer{
			ID:        doc.ID,
			Title:     domain.LocalizedText(doc.Data.Title).Clone(),
			Image:     strings.TrimSpace(doc.Data.Image),
			ExpiresAt: doc.Data.ExpiresAt,
		}
		if rule := doc.Data.Rule; rule != nil {
			offer.Rule = &domain.DiscountRule{
				Type:   domain.DiscountType(strings.ToLower(strings.TrimSpace(rule.Type))),
				Scope:  normaliseScope(rule.Scope),
				Target: strings.TrimSpace(rule.Target),
				Value:  rule.Value,
			}
		}
		out = append(out, offer)
	}
	return out, nil
}

func normaliseScope(scope string) domain.DiscountScope {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "category":
		return domain.DiscountScopeCategory
	case "product", "specific-product", "specific_product":
		return domain.DiscountScopeProduct
	case "all", "":
		return domain.DiscountScopeAll
	}
	return domain.DiscountScope(scope)
}
