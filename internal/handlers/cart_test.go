package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/platform/auth"
	"github.com/baqala/storefront/internal/repositories"
	"github.com/baqala/storefront/internal/repositories/memory"
	"github.com/baqala/storefront/internal/services"
)

var cartNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type cartHarness struct {
	svc     *services.CartService
	guest   *memory.CartRepository
	account *memory.CartRepository
	watches *watchCountingStore
	catalog *memory.CatalogRepository
	offers  *memory.OfferRepository
}

// watchCountingStore records every live subscription opened on the account store.
type watchCountingStore struct {
	*memory.CartRepository
	opened atomic.Int32
}

func (s *watchCountingStore) Watch(ctx context.Context, owner string, handler repositories.CartWatchHandler) (func(), error) {
	s.opened.Add(1)
	return s.CartRepository.Watch(ctx, owner, handler)
}

func newCartHarness(t *testing.T) *cartHarness {
	t.Helper()
	catalog := memory.NewCatalogRepository()
	catalog.PutProduct(domain.Product{
		ID:        "tea",
		Kind:      domain.ProductKindSimple,
		Name:      domain.LocalizedText{"ar": "شاي", "en": "Tea"},
		Category:  "Beverages",
		UnitPrice: 1000,
		Stock:     20,
	})
	catalog.PutProduct(domain.Product{
		ID:        "bread",
		Kind:      domain.ProductKindSimple,
		Name:      domain.LocalizedText{"ar": "خبز"},
		Category:  "Bakery",
		UnitPrice: 250,
		Stock:     20,
	})
	catalog.PutProduct(domain.Product{
		ID:             "breakfast",
		Kind:           domain.ProductKindBundle,
		Name:           domain.LocalizedText{"ar": "فطور", "en": "Breakfast"},
		Category:       "Bundles",
		Stock:          3,
		Contents:       []domain.BundleContent{{ItemID: "tea", Quantity: 1}, {ItemID: "bread", Quantity: 2}},
		EligibleExtras: []string{"honey"},
	})
	catalog.PutExtra(domain.Extra{ID: "honey", Name: domain.LocalizedText{"ar": "عسل", "en": "Honey"}, Price: 300})

	offers := memory.NewOfferRepository()
	discounts, err := services.NewDiscountService(services.DiscountServiceDeps{
		Offers: offers,
		Clock:  func() time.Time { return cartNow },
	})
	if err != nil {
		t.Fatalf("discount service: %v", err)
	}
	fees, err := services.NewDeliveryFeeService(services.DeliveryFeeServiceDeps{
		Settings:  memory.NewSettingsRepository(&domain.StoreSettings{DeliveryFee: 500}),
		Customers: memory.NewCustomerRepository(),
		Fallback:  services.DefaultDeliveryFee,
	})
	if err != nil {
		t.Fatalf("delivery fee service: %v", err)
	}

	h := &cartHarness{
		guest:   memory.NewCartRepository(),
		account: memory.NewCartRepository(),
		catalog: catalog,
		offers:  offers,
	}
	h.watches = &watchCountingStore{CartRepository: h.account}
	h.svc, err = services.NewCartService(services.CartServiceDeps{
		GuestStore:   h.guest,
		AccountStore: h.watches,
		Catalog:      catalog,
		Discounts:    discounts,
		DeliveryFees: fees,
		Clock:        func() time.Time { return cartNow },
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	return h
}

type cartCaller struct {
	deviceID string
	uid      string
	locale   string
}

// withCaller stands in for the guest token and Firebase middlewares.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if device := r.Header.Get("X-Test-Device"); device != "" {
			ctx = auth.WithGuest(ctx, auth.Guest{DeviceID: device})
		}
		if uid := r.Header.Get("X-Test-UID"); uid != "" {
			ctx = auth.WithIdentity(ctx, &auth.Identity{UID: uid, Locale: r.Header.Get("X-Test-Locale")})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *cartHarness) router(opts ...CartHandlerOption) chi.Router {
	router := chi.NewRouter()
	router.Use(withCaller)
	router.Route("/cart", NewCartHandlers(h.svc, opts...).Routes)
	return router
}

func (c cartCaller) request(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Test-Device", c.deviceID)
	}
	if c.uid != "" {
		req.Header.Set("X-Test-UID", c.uid)
	}
	if c.locale != "" {
		req.Header.Set("X-Test-Locale", c.locale)
	}
	return req
}

func serveCart(t *testing.T, router http.Handler, req *http.Request, wantStatus int) cartPayload {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", req.Method, req.URL.Path, wantStatus, rr.Code, rr.Body.String())
	}
	if wantStatus != http.StatusOK {
		return cartPayload{}
	}
	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cart response: %v", err)
	}
	return resp.Cart
}

func TestCartHandlers_GuestLifecycle(t *testing.T) {
	h := newCartHarness(t)
	router := h.router(WithCartCurrency("usd"))
	guest := cartCaller{deviceID: "device-1"}

	cart := serveCart(t, router, guest.request(http.MethodGet, "/cart", ""), http.StatusOK)
	if cart.State != "anonymous" || len(cart.Lines) != 0 || cart.Total != 500 {
		t.Fatalf("unexpected empty cart: %+v", cart)
	}
	if cart.Currency != "USD" {
		t.Fatalf("expected USD currency, got %s", cart.Currency)
	}

	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`), http.StatusOK)
	cart = serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`), http.StatusOK)
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 2 {
		t.Fatalf("expected one tea line with quantity 2, got %+v", cart.Lines)
	}
	if cart.Subtotal != 2000 || cart.DeliveryFee != 500 || cart.Total != 2500 {
		t.Fatalf("unexpected totals: %+v", cart)
	}

	cart = serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"breakfast","extraIds":["honey","honey"]}`), http.StatusOK)
	if len(cart.Lines) != 2 {
		t.Fatalf("expected two lines, got %+v", cart.Lines)
	}
	bundle := cart.Lines[1]
	if bundle.ID != "breakfast~honey" || bundle.UnitPrice != 1500 || bundle.GrandTotal != 1800 {
		t.Fatalf("unexpected bundle line: %+v", bundle)
	}
	if cart.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", cart.ItemCount)
	}

	cart = serveCart(t, router, guest.request(http.MethodGet, "/cart?delivery=pickup", ""), http.StatusOK)
	if cart.DeliveryFee != 0 || cart.Total != 3800 || cart.DeliveryMethod != "pickup" {
		t.Fatalf("unexpected pickup totals: %+v", cart)
	}

	cart = serveCart(t, router, guest.request(http.MethodPatch, "/cart/items/tea", `{"quantity":0}`), http.StatusOK)
	if len(cart.Lines) != 1 || cart.Lines[0].ID != "breakfast~honey" {
		t.Fatalf("expected tea removed, got %+v", cart.Lines)
	}

	cart = serveCart(t, router, guest.request(http.MethodDelete, "/cart/items/breakfast~honey", ""), http.StatusOK)
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart.Lines)
	}

	lines, err := h.guest.Load(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("load guest cart: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected guest store empty, got %+v", lines)
	}
}

func TestCartHandlers_Errors(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()
	guest := cartCaller{deviceID: "device-1"}

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{name: "no owner", req: cartCaller{}.request(http.MethodGet, "/cart", ""), status: http.StatusUnauthorized},
		{name: "empty body", req: guest.request(http.MethodPost, "/cart/items", ""), status: http.StatusBadRequest},
		{name: "unknown field", req: guest.request(http.MethodPost, "/cart/items", `{"productId":"tea","price":1}`), status: http.StatusBadRequest},
		{name: "missing product id", req: guest.request(http.MethodPost, "/cart/items", `{"extraIds":[]}`), status: http.StatusBadRequest},
		{name: "unknown product", req: guest.request(http.MethodPost, "/cart/items", `{"productId":"coffee"}`), status: http.StatusNotFound},
		{name: "extras on simple item", req: guest.request(http.MethodPost, "/cart/items", `{"productId":"tea","extraIds":["honey"]}`), status: http.StatusUnprocessableEntity},
		{name: "unknown extra", req: guest.request(http.MethodPost, "/cart/items", `{"productId":"breakfast","extraIds":["jam"]}`), status: http.StatusUnprocessableEntity},
		{name: "missing quantity", req: guest.request(http.MethodPatch, "/cart/items/tea", `{}`), status: http.StatusBadRequest},
		{name: "missing line", req: guest.request(http.MethodPatch, "/cart/items/tea", `{"quantity":2}`), status: http.StatusNotFound},
		{name: "bad delivery method", req: guest.request(http.MethodGet, "/cart?delivery=drone", ""), status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			serveCart(t, router, tc.req, tc.status)
		})
	}
}

func TestCartHandlers_RemoveMissingLineIsNoop(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()
	guest := cartCaller{deviceID: "device-1"}

	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"bread"}`), http.StatusOK)
	cart := serveCart(t, router, guest.request(http.MethodDelete, "/cart/items/tea", ""), http.StatusOK)
	if len(cart.Lines) != 1 || cart.Lines[0].ID != "bread" {
		t.Fatalf("expected bread line untouched, got %+v", cart.Lines)
	}
}

func TestCartHandlers_SignInMergesGuestCart(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()
	ctx := context.Background()

	if err := h.account.Save(ctx, "user-1", []domain.CartLine{{
		ID: "tea", ProductID: "tea", Kind: domain.ProductKindSimple, Name: domain.LocalizedText{"ar": "شاي"},
		Category: "Beverages", Quantity: 1, UnitPrice: 1000,
	}}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	guest := cartCaller{deviceID: "device-1"}
	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`), http.StatusOK)
	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"bread"}`), http.StatusOK)

	signedIn := cartCaller{deviceID: "device-1", uid: "user-1"}
	cart := serveCart(t, router, signedIn.request(http.MethodGet, "/cart", ""), http.StatusOK)
	if cart.State != "authenticated" || cart.MergePending {
		t.Fatalf("expected authenticated cart, got %+v", cart)
	}
	if len(cart.Lines) != 2 || cart.Lines[0].ID != "tea" || cart.Lines[0].Quantity != 2 || cart.Lines[1].ID != "bread" {
		t.Fatalf("unexpected merged lines: %+v", cart.Lines)
	}

	guestLines, err := h.guest.Load(ctx, "device-1")
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	if len(guestLines) != 0 {
		t.Fatalf("expected guest cart cleared after merge, got %+v", guestLines)
	}

	// A second request with the same device must not double-count.
	cart = serveCart(t, router, signedIn.request(http.MethodGet, "/cart", ""), http.StatusOK)
	if cart.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity to stay 2, got %d", cart.Lines[0].Quantity)
	}
}

func TestCartHandlers_RequestsDoNotWatchAccountCart(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()

	signedIn := cartCaller{deviceID: "device-1", uid: "user-1"}
	serveCart(t, router, signedIn.request(http.MethodGet, "/cart", ""), http.StatusOK)
	serveCart(t, router, signedIn.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`), http.StatusOK)
	cart := serveCart(t, router, signedIn.request(http.MethodPatch, "/cart/items/tea", `{"quantity":3}`), http.StatusOK)
	if cart.State != "authenticated" || cart.ItemCount != 3 {
		t.Fatalf("unexpected cart: %+v", cart)
	}
	serveCart(t, router, signedIn.request(http.MethodDelete, "/cart", ""), http.StatusOK)

	if got := h.watches.opened.Load(); got != 0 {
		t.Fatalf("expected no account watch for request/response calls, got %d", got)
	}
	if got := h.account.WatcherCount("user-1"); got != 0 {
		t.Fatalf("expected no active watchers, got %d", got)
	}
}

func TestCartHandlers_FailedMergeServesGuestCart(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()

	guest := cartCaller{deviceID: "device-1"}
	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"bread"}`), http.StatusOK)

	h.account.FailWrites(errors.New("firestore unavailable"))
	signedIn := cartCaller{deviceID: "device-1", uid: "user-1"}
	cart := serveCart(t, router, signedIn.request(http.MethodGet, "/cart", ""), http.StatusOK)
	if cart.State != "authenticating" || !cart.MergePending {
		t.Fatalf("expected pending merge, got %+v", cart)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ID != "bread" {
		t.Fatalf("expected guest lines while merge pending, got %+v", cart.Lines)
	}

	h.account.FailWrites(nil)
	cart = serveCart(t, router, signedIn.request(http.MethodGet, "/cart", ""), http.StatusOK)
	if cart.State != "authenticated" || len(cart.Lines) != 1 {
		t.Fatalf("expected merge on retry, got %+v", cart)
	}
}

func TestCartHandlers_FailedMergeWithoutDeviceIsUnavailable(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()

	serveCart(t, router, cartCaller{uid: "user-1"}.request(http.MethodGet, "/cart", ""), http.StatusOK)

	h.account.FailWrites(repositories.NewStoreError("memory_cart.mutate", repositories.StoreErrorUnavailable, errors.New("firestore unavailable")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, cartCaller{uid: "user-1"}.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when account writes fail, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlers_LocalisesNames(t *testing.T) {
	h := newCartHarness(t)
	router := h.router()

	caller := cartCaller{uid: "user-1", locale: "en"}
	cart := serveCart(t, router, caller.request(http.MethodPost, "/cart/items", `{"productId":"breakfast","extraIds":["honey"]}`), http.StatusOK)
	if cart.Lines[0].Name != "Breakfast" || cart.Lines[0].Extras[0].Name != "Honey" {
		t.Fatalf("expected english names, got %+v", cart.Lines[0])
	}

	req := cartCaller{uid: "user-1"}.request(http.MethodGet, "/cart", "")
	req.Header.Set("Accept-Language", "ar")
	cart = serveCart(t, router, req, http.StatusOK)
	if cart.Lines[0].Name != "فطور" {
		t.Fatalf("expected arabic name, got %s", cart.Lines[0].Name)
	}
}

func TestCartHandlers_AppliesDiscounts(t *testing.T) {
	h := newCartHarness(t)
	h.offers.Put(domain.Offer{
		ID:        "tea-10",
		ExpiresAt: cartNow.Add(time.Hour),
		Rule:      &domain.DiscountRule{Type: domain.DiscountTypePercentage, Scope: domain.DiscountScopeCategory, Target: "Beverages", Value: 10},
	})
	router := h.router()
	guest := cartCaller{deviceID: "device-1"}

	serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"tea"}`), http.StatusOK)
	cart := serveCart(t, router, guest.request(http.MethodPost, "/cart/items", `{"productId":"bread"}`), http.StatusOK)
	if cart.Subtotal != 1250 || cart.Discount != 100 || cart.Total != 1650 {
		t.Fatalf("unexpected discounted totals: %+v", cart)
	}
	if len(cart.AppliedOfferIDs) != 1 || cart.AppliedOfferIDs[0] != "tea-10" {
		t.Fatalf("unexpected applied offers: %v", cart.AppliedOfferIDs)
	}
}
