package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/modelforge/scoregate/internal/api/middleware"
)

// Dependencies holds all handler and middleware dependencies for the
// router. RateLimit is optional and skipped when nil.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	SubmitHandler http.HandlerFunc
	GetJobHandler http.HandlerFunc
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", deps.HealthHandler)

	// Gated routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/score", deps.SubmitHandler)
		r.Get("/api/v1/score/{jobID}", deps.GetJobHandler)
	})

	return r
}
