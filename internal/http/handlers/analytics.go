package handlers

import (
	"net/http"
	"time"

	"prepline-kds-service/pkg/response"
)

// AnalyticsSummary reports completion stats over a time range, defaulting
// to the current day.
func (h *Handler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	start, ok := readQueryTime(r, "start")
	if !ok {
		year, month, day := now.Date()
		start = time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	}
	end, ok := readQueryTime(r, "end")
	if !ok {
		end = now
	}
	if end.Before(start) {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "end must not precede start")
		return
	}

	response.Success(w, h.Engine.Summarize(start, end))
}
