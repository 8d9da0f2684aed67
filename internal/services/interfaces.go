package services

import (
	"context"
	"time"

	"github.com/baqala/storefront/internal/domain"
)

// CartState is the lifecycle state of a cart session.
type CartState string

const (
	CartStateAnonymous      CartState = "anonymous"
	CartStateAuthenticating CartState = "authenticating"
	CartStateAuthenticated  CartState = "authenticated"
)

// CartOwnerKind identifies which store a cart change came from.
type CartOwnerKind string

const (
	CartOwnerGuest   CartOwnerKind = "guest"
	CartOwnerAccount CartOwnerKind = "account"
)

// CartChange is published to session subscribers whenever the visible line list changes.
type CartChange struct {
	OwnerKind  CartOwnerKind     `json:"ownerKind"`
	OwnerID    string            `json:"ownerId"`
	State      CartState         `json:"state"`
	Reason     string            `json:"reason"`
	Lines      []domain.CartLine `json:"lines"`
	ItemCount  int               `json:"itemCount"`
	Subtotal   int64             `json:"subtotal"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// CartEventPublisher forwards cart changes outside the process.
type CartEventPublisher interface {
	PublishCartChanged(ctx context.Context, change CartChange) (string, error)
}

// DiscountResult is the outcome of evaluating offers against cart lines.
type DiscountResult struct {
	Amount          int64    `json:"amount"`
	AppliedOfferIDs []string `json:"appliedOfferIds"`
}

// DiscountEvaluator computes discounts for a set of cart lines.
type DiscountEvaluator interface {
	Evaluate(ctx context.Context, lines []domain.CartLine) (DiscountResult, error)
}

// DeliveryFeeResolver resolves the delivery fee for a customer (empty uid for guests).
type DeliveryFeeResolver interface {
	Fee(ctx context.Context, method domain.DeliveryMethod, uid string) (int64, error)
}

// ReportWriter persists integrity scan reports.
type ReportWriter interface {
	WriteJSON(ctx context.Context, name string, payload any) (string, error)
}

// CartSummary is the priced view of a cart.
type CartSummary struct {
	State           CartState         `json:"state"`
	Lines           []domain.CartLine `json:"lines"`
	ItemCount       int               `json:"itemCount"`
	Subtotal        int64             `json:"subtotal"`
	Discount        int64             `json:"discount"`
	AppliedOfferIDs []string          `json:"appliedOfferIds"`
	DeliveryMethod  string            `json:"deliveryMethod"`
	DeliveryFee     int64             `json:"deliveryFee"`
	Total           int64             `json:"total"`
}
