package httpapi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"prepline-kds-service/internal/http/handlers"
	"prepline-kds-service/internal/middleware"
	"prepline-kds-service/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, wsServer *ws.Server, logger *zap.Logger) http.Handler {
	cfg := h.Config

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Telemetry(logger))

	if cfg.Env == "development" || len(cfg.CorsAllowedOrigins) > 0 {
		options := cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"Cache-Control",
				"Pragma",
			},
			AllowCredentials: true,
			MaxAge:           300,
		}

		if cfg.Env == "development" {
			options.AllowOriginFunc = func(_ *http.Request, origin string) bool {
				return true
			}
		} else {
			options.AllowedOrigins = cfg.CorsAllowedOrigins
		}

		r.Use(cors.Handler(options))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/api/auth/pair", h.AuthPair)
	r.Post("/api/webhooks/orders", h.OrdersWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.DisplayAuth(cfg.JWTSecret))

		r.Get("/orders", h.OrdersList)
		r.Get("/orders/completed", h.OrdersCompleted)
		r.Get("/orders/allday", h.OrdersAllDay)
		r.Post("/orders/{orderId}/complete", h.OrderComplete)
		r.Post("/orders/{orderId}/reopen", h.OrderReopen)
		r.Post("/orders/{orderId}/items/{uid}", h.OrderItemStatus)
		r.Get("/locations", h.LocationsList)
		r.Get("/analytics", h.AnalyticsSummary)
		r.Get("/settings", h.SettingsGet)
		r.Put("/settings", h.SettingsPut)
		r.Post("/devices", h.DeviceRegister)
	})

	if wsServer != nil {
		r.Get("/ws/board", wsServer.BoardWS)
	}

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

// Hijack keeps websocket upgrades working through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
