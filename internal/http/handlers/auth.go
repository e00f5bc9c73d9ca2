package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepline-kds-service/internal/auth"
	"prepline-kds-service/internal/middleware"
	"prepline-kds-service/internal/settings"
	"prepline-kds-service/pkg/response"
)

// AuthPair exchanges a registered device name and key for a display token.
func (h *Handler) AuthPair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || body.Key == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "name and key are required")
		return
	}

	if err := h.Store.VerifyDevice(r.Context(), body.Name, body.Key); err != nil {
		if !errors.Is(err, settings.ErrDeviceNotFound) {
			h.Logger.Warn("device verification failed", zap.String("device", body.Name), zap.Error(err))
		}
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown device or wrong key")
		return
	}

	ttl := time.Duration(h.Config.JWTExpirySeconds) * time.Second
	token, err := auth.IssueDeviceToken(body.Name, body.Name, h.Config.JWTSecret, ttl)
	if err != nil {
		h.Logger.Error("token issue failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}

	response.Success(w, map[string]any{
		"token":     token,
		"expiresIn": int64(ttl / time.Second),
	})
}

// DeviceRegister stores a new pairing name and key. It sits behind display
// auth, so an already-paired screen enrolls the next one; the very first
// device comes from the bootstrap pair registered at startup.
func (h *Handler) DeviceRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}
	if len(body.Key) < 8 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "key must be at least 8 characters")
		return
	}

	if err := h.Store.RegisterDevice(r.Context(), body.Name, body.Key); err != nil {
		h.Logger.Error("device registration failed", zap.String("device", body.Name), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register device")
		return
	}

	if ac, ok := middleware.GetAuthContext(r.Context()); ok {
		h.Logger.Info("device registered",
			zap.String("device", body.Name),
			zap.String("registeredBy", ac.DeviceName))
	}
	response.Created(w, map[string]any{"name": body.Name})
}
