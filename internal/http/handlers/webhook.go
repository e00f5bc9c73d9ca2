package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/pos"
	"prepline-kds-service/pkg/response"
)

const maxWebhookBody = 1 << 20

// OrdersWebhook receives provider push notifications. Push is an
// accelerator only; a dropped or malformed event is corrected by the next
// poll, so everything here fails soft with a 2xx to stop provider retries
// once the payload has been read.
func (h *Handler) OrdersWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unreadable body")
		return
	}

	if h.Config.WebhookSecret != "" {
		signature := r.Header.Get("X-Webhook-Signature")
		if !pos.VerifyWebhookSignature(h.Config.WebhookSecret, h.Config.WebhookURL, body, signature) {
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed")
			return
		}
	}

	eventType, order, err := pos.ParseWebhookEvent(body, h.rushMarker(r.Context()))
	if err != nil {
		// Unknown event types and partial payloads are expected noise.
		h.Logger.Debug("webhook event ignored", zap.Error(err))
		response.Success(w, map[string]any{"applied": false})
		return
	}

	h.Engine.ApplyPushEvent(board.Event{
		Type:  board.EventType(eventType),
		Order: &order,
	})

	if h.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if relayErr := h.Bus.RelayOrderEvent(ctx, eventType, order); relayErr != nil {
			h.Logger.Warn("webhook relay to displays failed", zap.String("orderId", order.ID), zap.Error(relayErr))
		}
		cancel()
	}

	response.Success(w, map[string]any{"applied": true})
}

// rushMarker reads the marker the settings screen may have edited, falling
// back to the configured default when the store is unreachable.
func (h *Handler) rushMarker(ctx context.Context) string {
	display, err := h.Store.Get(ctx)
	if err != nil {
		h.Logger.Warn("settings read failed, using configured rush marker", zap.Error(err))
		return h.Config.RushMarker
	}
	return display.RushMarker
}
