package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/hours"
	"prepline-kds-service/internal/settings"
	"prepline-kds-service/pkg/response"
)

func (h *Handler) SettingsGet(w http.ResponseWriter, r *http.Request) {
	display, err := h.Store.Get(r.Context())
	if err != nil {
		h.Logger.Warn("settings read failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load settings")
		return
	}
	response.Success(w, display)
}

// SettingsPut persists the display settings and applies them immediately,
// without waiting for the next poll cycle.
func (h *Handler) SettingsPut(w http.ResponseWriter, r *http.Request) {
	var display settings.Display
	if !decodeJSON(w, r, &display) {
		return
	}
	if message, ok := validateSettings(display); !ok {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
		return
	}

	if err := h.Store.Put(r.Context(), display); err != nil {
		h.Logger.Warn("settings write failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save settings")
		return
	}

	h.Engine.SetSettings(display.Board())
	response.Success(w, display)
}

func validateSettings(d settings.Display) (string, bool) {
	if d.WarningSeconds <= 0 || d.DangerSeconds <= 0 {
		return "warningSeconds and dangerSeconds must be positive", false
	}
	if d.DangerSeconds <= d.WarningSeconds {
		return "dangerSeconds must exceed warningSeconds", false
	}
	if d.GraceWindowSeconds < 0 {
		return "graceWindowSeconds must not be negative", false
	}
	if d.LookbackMinutes <= 0 {
		return "lookbackMinutes must be positive", false
	}
	if d.RetentionHours <= 0 {
		return "retentionHours must be positive", false
	}
	if d.OpenTime != "" || d.CloseTime != "" {
		if _, _, ok := hours.Window(d.OpenTime, d.CloseTime, time.Now()); !ok {
			return "openTime and closeTime must both be HH:MM", false
		}
	}
	return "", true
}
