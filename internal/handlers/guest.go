package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/baqala/storefront/internal/platform/auth"
	"github.com/baqala/storefront/internal/platform/httpx"
	"github.com/baqala/storefront/internal/platform/requestctx"
)

// GuestTokenMinter issues device tokens for anonymous shoppers.
type GuestTokenMinter interface {
	Issue() (auth.GuestToken, error)
}

// GuestHandlers exposes guest session endpoints.
type GuestHandlers struct {
	tokens GuestTokenMinter
}

// NewGuestHandlers constructs guest handlers.
func NewGuestHandlers(tokens GuestTokenMinter) *GuestHandlers {
	return &GuestHandlers{tokens: tokens}
}

// Routes wires the /guest endpoints onto the provided router.
func (h *GuestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.createSession)
}

type guestSessionResponse struct {
	Token     string `json:"token"`
	DeviceID  string `json:"deviceId"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *GuestHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tokens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("guest_sessions_unavailable", "guest sessions are unavailable", http.StatusServiceUnavailable))
		return
	}
	token, err := h.tokens.Issue()
	if err != nil {
		requestctx.Logger(ctx).Error("guest token issue failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("guest_session_error", "failed to create guest session", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusCreated, guestSessionResponse{
		Token:     token.Token,
		DeviceID:  token.DeviceID,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
