// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/d9705996/statusbridge/internal/api/handler"
	"github.com/d9705996/statusbridge/internal/api/middleware"
	"github.com/d9705996/statusbridge/internal/auth"
	"github.com/d9705996/statusbridge/internal/health"
)

// Routes groups the handlers mounted by RegisterRoutes.
type Routes struct {
	Health  *health.Handler
	Mapping *handler.MappingHandler
	Actions *handler.ActionsHandler
	Metrics http.Handler
	// JWTSecret enables the admin endpoints when non-empty.
	JWTSecret string
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, r Routes) {
	// Public endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", r.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", r.Health.ServeReady)
	if r.Metrics != nil {
		mux.Handle("GET /metrics", r.Metrics)
	}

	// Admin endpoints exist only when a signing secret is configured.
	if r.JWTSecret != "" {
		protected := func(h http.HandlerFunc) http.Handler {
			return middleware.RequireAuth(r.JWTSecret)(middleware.RequireScope(auth.ScopeRead)(h))
		}
		mux.Handle("GET /api/v1/mapping", protected(r.Mapping.List))
		mux.Handle("GET /api/v1/actions", protected(r.Actions.List))
	}

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
