package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/platform/auth"
	"github.com/baqala/storefront/internal/platform/httpx"
	"github.com/baqala/storefront/internal/platform/requestctx"
	"github.com/baqala/storefront/internal/services"
)

const (
	maxCartBodySize        = 16 * 1024
	defaultCartTimeout     = 30 * time.Second
	defaultStreamHeartbeat = 25 * time.Second
)

// CartSessionOpener opens a per-request cart session for a device.
type CartSessionOpener interface {
	OpenSession(ctx context.Context, deviceID string, opts ...services.SessionOption) *services.CartSession
}

// CartHandlers exposes cart endpoints for guests and signed-in customers.
type CartHandlers struct {
	sessions  CartSessionOpener
	authn     *auth.Authenticator
	guests    *auth.GuestTokenIssuer
	currency  string
	timeout   time.Duration
	heartbeat time.Duration
}

// CartHandlerOption customises CartHandlers.
type CartHandlerOption func(*CartHandlers)

// WithCartAuthenticator enables optional Firebase authentication on cart routes.
func WithCartAuthenticator(authn *auth.Authenticator) CartHandlerOption {
	return func(h *CartHandlers) {
		h.authn = authn
	}
}

// WithGuestTokens enables guest token verification on cart routes.
func WithGuestTokens(issuer *auth.GuestTokenIssuer) CartHandlerOption {
	return func(h *CartHandlers) {
		h.guests = issuer
	}
}

// WithCartCurrency sets the ISO currency reported with cart amounts.
func WithCartCurrency(currency string) CartHandlerOption {
	return func(h *CartHandlers) {
		if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
			h.currency = c
		}
	}
}

// WithCartTimeout bounds non-streaming cart requests.
func WithCartTimeout(d time.Duration) CartHandlerOption {
	return func(h *CartHandlers) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithStreamHeartbeat sets the keep-alive interval of the cart event stream.
func WithStreamHeartbeat(d time.Duration) CartHandlerOption {
	return func(h *CartHandlers) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(sessions CartSessionOpener, opts ...CartHandlerOption) *CartHandlers {
	h := &CartHandlers{
		sessions:  sessions,
		currency:  "IQD",
		timeout:   defaultCartTimeout,
		heartbeat: defaultStreamHeartbeat,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.guests != nil {
		r.Use(h.guests.Middleware)
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(auth.RequireCartOwner)
	r.Use(LocaleMiddleware)

	r.Get("/stream", h.streamCart)
	r.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(h.timeout))
		g.Get("/", h.getCart)
		g.Delete("/", h.clearCart)
		g.Post("/items", h.addItem)
		g.Patch("/items/{lineId}", h.updateItem)
		g.Delete("/items/{lineId}", h.removeItem)
	})
}

type addItemRequest struct {
	ProductID string   `json:"productId"`
	ExtraIDs  []string `json:"extraIds"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, session *services.CartSession) error {
		return nil
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, session *services.CartSession) error {
		return session.ClearCart(ctx)
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	h.withSession(w, r, func(ctx context.Context, session *services.CartSession) error {
		return session.AddProduct(ctx, req.ProductID, req.ExtraIDs)
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
	var req updateItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	h.withSession(w, r, func(ctx context.Context, session *services.CartSession) error {
		return session.UpdateQuantity(ctx, lineID, *req.Quantity)
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
	h.withSession(w, r, func(ctx context.Context, session *services.CartSession) error {
		return session.RemoveFromCart(ctx, lineID)
	})
}

func (h *CartHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := decodeStrict(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

// withSession opens the caller's session, runs op and responds with the priced cart.
func (h *CartHandlers) withSession(w http.ResponseWriter, r *http.Request, op func(context.Context, *services.CartSession) error) {
	ctx := r.Context()
	method, err := services.ParseDeliveryMethod(r.URL.Query().Get("delivery"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery must be delivery or pickup", http.StatusBadRequest))
		return
	}

	session, ok := h.openSession(ctx, w)
	if !ok {
		return
	}
	defer session.Close()

	if err := op(ctx, session); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	summary, err := session.Summary(ctx, method)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(summary, requestctx.Locale(ctx))})
}

// openSession binds a session to the request's guest device and identity.
// A failed merge keeps serving the guest cart; the response reports the
// authenticating state and the next request retries the merge.
func (h *CartHandlers) openSession(ctx context.Context, w http.ResponseWriter, opts ...services.SessionOption) (*services.CartSession, bool) {
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}

	var deviceID string
	if guest, ok := auth.GuestFromContext(ctx); ok {
		deviceID = guest.DeviceID
	}
	session := h.sessions.OpenSession(ctx, deviceID, opts...)
	if cartErr := session.Err(); cartErr != nil {
		session.Close()
		h.writeCartError(ctx, w, cartErr)
		return nil, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return session, true
	}
	if err := session.SetIdentity(ctx, identity.UID); err != nil {
		if deviceID == "" {
			session.Close()
			h.writeCartError(ctx, w, err)
			return nil, false
		}
		requestctx.Logger(ctx).Warn("cart merge pending", zap.Error(err))
	}
	return session, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrExtraNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("extra_not_allowed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_timeout", "cart request timed out", http.StatusGatewayTimeout))
	default:
		requestctx.Logger(ctx).Error("cart request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart request failed", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	State           string            `json:"state"`
	MergePending    bool              `json:"mergePending,omitempty"`
	Currency        string            `json:"currency"`
	Lines           []cartLinePayload `json:"lines"`
	ItemCount       int               `json:"itemCount"`
	Subtotal        int64             `json:"subtotal"`
	Discount        int64             `json:"discount"`
	AppliedOfferIDs []string          `json:"appliedOfferIds"`
	DeliveryMethod  string            `json:"deliveryMethod"`
	DeliveryFee     int64             `json:"deliveryFee"`
	Total           int64             `json:"total"`
}

type cartLinePayload struct {
	ID         string             `json:"id"`
	ProductID  string             `json:"productId"`
	Kind       string             `json:"kind"`
	Name       string             `json:"name"`
	Image      string             `json:"image,omitempty"`
	Category   string             `json:"category,omitempty"`
	Quantity   int                `json:"quantity"`
	UnitPrice  int64              `json:"unitPrice"`
	Extras     []cartExtraPayload `json:"extras,omitempty"`
	LineTotal  int64              `json:"lineTotal"`
	GrandTotal int64              `json:"grandTotal"`
	Stock      int                `json:"stock"`
	AddedAt    string             `json:"addedAt,omitempty"`
}

type cartExtraPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

func (h *CartHandlers) buildCartPayload(summary services.CartSummary, locale string) cartPayload {
	payload := cartPayload{
		State:           string(summary.State),
		MergePending:    summary.State == services.CartStateAuthenticating,
		Currency:        h.currency,
		Lines:           make([]cartLinePayload, 0, len(summary.Lines)),
		ItemCount:       summary.ItemCount,
		Subtotal:        summary.Subtotal,
		Discount:        summary.Discount,
		AppliedOfferIDs: summary.AppliedOfferIDs,
		DeliveryMethod:  summary.DeliveryMethod,
		DeliveryFee:     summary.DeliveryFee,
		Total:           summary.Total,
	}
	if payload.AppliedOfferIDs == nil {
		payload.AppliedOfferIDs = []string{}
	}
	for _, line := range summary.Lines {
		payload.Lines = append(payload.Lines, buildCartLinePayload(line, locale))
	}
	return payload
}

func buildCartLinePayload(line domain.CartLine, locale string) cartLinePayload {
	item := cartLinePayload{
		ID:         line.ID,
		ProductID:  line.ProductID,
		Kind:       string(line.Kind),
		Name:       line.Name.Resolve(locale),
		Image:      line.Image,
		Category:   line.Category,
		Quantity:   line.Quantity,
		UnitPrice:  line.UnitPrice,
		LineTotal:  domain.LineTotal(line),
		GrandTotal: domain.LineGrandTotal(line),
		Stock:      line.Stock,
	}
	if !line.AddedAt.IsZero() {
		item.AddedAt = line.AddedAt.UTC().Format(time.RFC3339)
	}
	for _, extra := range line.Extras {
		item.Extras = append(item.Extras, cartExtraPayload{
			ID:    extra.ID,
			Name:  extra.Name.Resolve(locale),
			Price: extra.Price,
		})
	}
	return item
}
