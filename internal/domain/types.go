package domain

import (
	"strings"
	"time"
)

// ProductKind distinguishes simple catalogue items from composite bundles.
type ProductKind string

const (
	// ProductKindSimple is a single sellable item with its own unit price.
	ProductKindSimple ProductKind = "simple"
	// ProductKindBundle is a composite product priced from its referenced items.
	ProductKindBundle ProductKind = "bundle"
)

// DefaultLocale is the storefront's primary language (Arabic, RTL).
const DefaultLocale = "ar"

// LocalizedText maps language codes to display strings.
type LocalizedText map[string]string

// Resolve returns the text for locale, falling back to the default locale and then any value.
func (t LocalizedText) Resolve(locale string) string {
	if len(t) == 0 {
		return ""
	}
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale != "" {
		if v := strings.TrimSpace(t[locale]); v != "" {
			return v
		}
		if base, _, ok := strings.Cut(locale, "-"); ok {
			if v := strings.TrimSpace(t[base]); v != "" {
				return v
			}
		}
	}
	if v := strings.TrimSpace(t[DefaultLocale]); v != "" {
		return v
	}
	for _, v := range t {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Clone returns an independent copy of the text map.
func (t LocalizedText) Clone() LocalizedText {
	if len(t) == 0 {
		return nil
	}
	out := make(LocalizedText, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// BundleContent is one (item, quantity) line of a bundle.
type BundleContent struct {
	ItemID   string `firestore:"itemId" json:"itemId"`
	Quantity int    `firestore:"quantity" json:"quantity"`
}

// Product is either a simple item or a bundle. Bundles never store a price; it is derived from Contents.
type Product struct {
	ID             string
	Kind           ProductKind
	Name           LocalizedText
	Category       string
	Image          string
	UnitPrice      int64
	Stock          int
	Contents       []BundleContent
	EligibleExtras []string
}

// IsBundle reports whether the product is a bundle.
func (p Product) IsBundle() bool {
	return p.Kind == ProductKindBundle
}

// Extra is a priced add-on attachable to bundle cart lines.
type Extra struct {
	ID    string        `firestore:"id" json:"id"`
	Name  LocalizedText `firestore:"name" json:"name"`
	Price int64         `firestore:"price" json:"price"`
}

// CartLine is one product + extras combination in a cart.
// UnitPrice is captured when the line is created and never recomputed.
type CartLine struct {
	ID        string        `firestore:"id" json:"id"`
	ProductID string        `firestore:"productId" json:"productId"`
	Kind      ProductKind   `firestore:"kind" json:"kind"`
	Name      LocalizedText `firestore:"name" json:"name"`
	Image     string        `firestore:"image,omitempty" json:"image,omitempty"`
	Quantity  int           `firestore:"quantity" json:"quantity"`
	UnitPrice int64         `firestore:"unitPrice" json:"unitPrice"`
	Extras    []Extra       `firestore:"extras,omitempty" json:"extras,omitempty"`
	Category  string        `firestore:"category,omitempty" json:"category,omitempty"`
	Stock     int           `firestore:"stock" json:"stock"`
	AddedAt   time.Time     `firestore:"addedAt" json:"addedAt"`
}

// DiscountType enumerates how an offer's value is applied.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DiscountScope enumerates which cart lines an offer matches.
type DiscountScope string

const (
	DiscountScopeAll      DiscountScope = "all"
	DiscountScopeCategory DiscountScope = "category"
	DiscountScopeProduct  DiscountScope = "specific-product"
)

// DiscountRule describes an offer's discount. Target is a category name or product id depending on Scope.
type DiscountRule struct {
	Type   DiscountType
	Scope  DiscountScope
	Target string
	Value  float64
}

// Offer is a time-bounded promotion. Offers without a Rule are display-only.
type Offer struct {
	ID        string
	Title     LocalizedText
	Image     string
	ExpiresAt time.Time
	Rule      *DiscountRule
}

// ActiveAt reports whether the offer has not yet expired at now.
func (o Offer) ActiveAt(now time.Time) bool {
	return o.ExpiresAt.After(now)
}

// DeliveryMethod selects how an order reaches the customer.
type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

// StoreSettings holds store-wide configuration relevant to pricing.
type StoreSettings struct {
	DeliveryFee int64
	Currency    string
	UpdatedAt   time.Time
}

// Customer carries per-customer pricing overrides.
type Customer struct {
	ID                  string
	DeliveryFeeOverride *int64
}
