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
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.With(s.authMiddleware).Post("/", s.handleCreateAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAccount)
				r.Get("/snapshot", s.handleGetSnapshot)
				r.Get("/entities", s.handleListEntities)

				// Protected routes
				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)

					r.Post("/reauth", s.handleReauthAccount)
					r.Post("/refresh", s.handleRefreshAccount)
					r.Delete("/", s.handleDeleteAccount)
				})
			})
		})

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
