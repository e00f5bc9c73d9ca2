package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/middleware"
	"prepline-kds-service/pkg/response"
)

// OrdersList returns the open board, sorted rush first then oldest first.
func (h *Handler) OrdersList(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	filters := board.Filters{
		RushOnly: readQueryBool(r, "rush"),
		Source:   r.URL.Query().Get("source"),
	}

	response.Success(w, map[string]any{
		"orders": h.Engine.OpenView(now, filters),
		"status": h.Engine.Status(now),
	})
}

// OrdersCompleted returns recently completed tickets, newest first. The
// range defaults to the retention window.
func (h *Handler) OrdersCompleted(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	start, ok := readQueryTime(r, "start")
	if !ok {
		start = now.Add(-h.Engine.SettingsSnapshot().CompletedRetention)
	}
	end, ok := readQueryTime(r, "end")
	if !ok {
		end = now
	}

	response.Success(w, map[string]any{
		"orders": h.Engine.CompletedView(start, end),
	})
}

// OrdersAllDay aggregates open line items by name for the kitchen prep view.
func (h *Handler) OrdersAllDay(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]any{
		"items": h.Engine.AllDay(time.Now()),
	})
}

func (h *Handler) OrderComplete(w http.ResponseWriter, r *http.Request) {
	orderID := readPathString(r, "orderId")
	if orderID == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "orderId is required")
		return
	}

	if err := h.Engine.MarkDone(orderID); err != nil {
		writeEngineError(w, err)
		return
	}
	if ac, ok := middleware.GetAuthContext(r.Context()); ok {
		h.Logger.Info("ticket marked done", zap.String("orderId", orderID), zap.String("device", ac.DeviceName))
	}
	response.Success(w, map[string]any{"orderId": orderID, "pending": true})
}

func (h *Handler) OrderReopen(w http.ResponseWriter, r *http.Request) {
	orderID := readPathString(r, "orderId")
	if orderID == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "orderId is required")
		return
	}

	if err := h.Engine.Reopen(orderID); err != nil {
		writeEngineError(w, err)
		return
	}
	if ac, ok := middleware.GetAuthContext(r.Context()); ok {
		h.Logger.Info("ticket reopened", zap.String("orderId", orderID), zap.String("device", ac.DeviceName))
	}
	response.Success(w, map[string]any{"orderId": orderID})
}

// OrderItemStatus toggles a single line item between pending and completed.
func (h *Handler) OrderItemStatus(w http.ResponseWriter, r *http.Request) {
	orderID := readPathString(r, "orderId")
	uid := readPathString(r, "uid")
	if orderID == "" || uid == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "orderId and uid are required")
		return
	}

	var body struct {
		Status board.ItemStatus `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Status != board.ItemPending && body.Status != board.ItemCompleted {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be pending or completed")
		return
	}

	if err := h.Engine.SetItemStatus(orderID, uid, body.Status); err != nil {
		writeEngineError(w, err)
		return
	}
	response.Success(w, map[string]any{"orderId": orderID, "uid": uid, "status": body.Status})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, board.ErrUnknownOrder):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Order is not on the board")
	case errors.Is(err, board.ErrAlreadyPending):
		response.Error(w, http.StatusConflict, "ALREADY_PENDING", "Completion is already in progress")
	case errors.Is(err, board.ErrAlreadyCompleted):
		response.Error(w, http.StatusConflict, "ALREADY_COMPLETED", "Ticket is already completed")
	case errors.Is(err, board.ErrReopenDisabled):
		response.Error(w, http.StatusForbidden, "REOPEN_DISABLED", "Reopening completed tickets is disabled")
	case errors.Is(err, board.ErrClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down")
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error")
	}
}
