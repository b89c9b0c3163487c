package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the broker check behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the chi router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates from the query string
		r.With(s.queryTokenMiddleware).Get(s.wsCfg.Path, s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)

			r.Route("/led", func(r chi.Router) {
				r.Get("/", s.handleGetLED)
				r.Post("/", s.handleSetLED)
				r.Post("/toggle", s.handleToggleLED)
			})

			r.Route("/attributes", func(r chi.Router) {
				r.Get("/", s.handleListAttributes)
				r.Post("/", s.handlePublishAttributes)
				r.Get("/{name}", s.handleGetAttribute)
				r.Put("/{name}", s.handleSetAttribute)
			})

			r.Post("/telemetry", s.handlePublishTelemetry)
		})
	})

	return r
}

// handleHealth returns the server health status.
// A disconnected broker is normal under the per-command policy, so it is
// reported but never fails the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	broker := "not_configured"
	if s.broker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		broker = "connected"
		if err := s.broker.HealthCheck(ctx); err != nil {
			broker = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"broker":            broker,
		"websocket_clients": s.hub.ClientCount(),
	})
}

// handleStatus returns the gateway's connection and store summary.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Status())
}
