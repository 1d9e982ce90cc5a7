package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-licensing/internal/middleware"
	"github.com/technosupport/ts-licensing/internal/tokens"
)

type RouterDeps struct {
	Licenses       *LicenseHandler
	Audit          *AuditHandler
	Activations    *ActivationHandler
	Health         *HealthHandler
	Auth           *middleware.JWTAuth
	RateLimit      *middleware.RateLimitMiddleware // nil disables limiting
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz", d.Health.Live)
	r.Get("/readyz", d.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public validation endpoint, called by shipped products.
		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(d.AllowedOrigins))
			if d.RateLimit != nil {
				r.Use(d.RateLimit.ValidateLimiter)
			}
			r.Post("/licenses/validate", d.Licenses.ValidatePost)
			r.Get("/licenses/validate", d.Licenses.ValidateGet)
			r.Options("/licenses/validate", func(w http.ResponseWriter, _ *http.Request) {})
		})

		// Operator API.
		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)
			if d.RateLimit != nil {
				r.Use(d.RateLimit.OperatorLimiter)
			}
			r.With(middleware.RequireScope(tokens.ScopeAttemptsRead)).
				Get("/validation-attempts", d.Audit.GetAttempts)
			r.With(middleware.RequireScope(tokens.ScopeActivationsRead)).
				Get("/licenses/{id}/activations", d.Activations.List)
			r.With(middleware.RequireScope(tokens.ScopeActivationsWrite)).
				Delete("/licenses/{id}/activations/{device_id}", d.Activations.Release)
		})
	})

	return r
}
