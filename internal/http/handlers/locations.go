package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prepline-kds-service/pkg/response"
)

// LocationsList returns the active provider locations for the settings
// screen's location filter.
func (h *Handler) LocationsList(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Locations.ListLocations(r.Context())
	if err != nil {
		h.Logger.Warn("location fetch failed", zap.Error(err))
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch locations")
		return
	}
	response.Success(w, map[string]any{"locations": locations})
}
