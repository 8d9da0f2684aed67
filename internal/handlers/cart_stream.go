package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/baqala/storefront/internal/platform/httpx"
	"github.com/baqala/storefront/internal/platform/requestctx"
	"github.com/baqala/storefront/internal/services"
)

const streamBuffer = 16

// streamCart serves the caller's cart as server-sent events. The first event
// carries the current cart; later events follow every change seen by the
// session until the client disconnects.
func (h *CartHandlers) streamCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}
	method, err := services.ParseDeliveryMethod(r.URL.Query().Get("delivery"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery must be delivery or pickup", http.StatusBadRequest))
		return
	}

	session, ok := h.openSession(ctx, w, services.WithLiveUpdates())
	if !ok {
		return
	}
	defer session.Close()

	changes := make(chan services.CartChange, streamBuffer)
	unsubscribe, err := session.Subscribe(func(change services.CartChange) {
		select {
		case changes <- change:
		default:
		}
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	defer unsubscribe()

	summary, err := session.Summary(ctx, method)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	locale := requestctx.Locale(ctx)
	logger := requestctx.Logger(ctx)
	if err := writeEvent(w, "cart", cartResponse{Cart: h.buildCartPayload(summary, locale)}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case change := <-changes:
			summary, err := session.Summary(ctx, method)
			if err != nil {
				logger.Warn("cart stream pricing failed", zap.String("reason", change.Reason), zap.Error(err))
				continue
			}
			if err := writeEvent(w, "cart", cartResponse{Cart: h.buildCartPayload(summary, locale)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
