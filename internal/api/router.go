package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// The single ingestion entry point. Called by device firmware
		// and browser clients alike.
		r.Post("/bridge", s.handleBridge)

		// Protocol settings singleton
		r.Route("/settings/protocols", func(r chi.Router) {
			r.Get("/", s.handleGetProtocolSettings)
			r.Put("/", s.handlePutProtocolSettings)
		})

		// Read-only registry views over the data this core writes
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/readings", s.handleListReadings)
				r.Get("/history", s.handleListStatusHistory)
			})
		})

		// WebSocket (telemetry broadcast channels)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
