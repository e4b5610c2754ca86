package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/notely/notely/internal/middleware"
)

// RouterConfig wires handlers and middleware into the API routes.
type RouterConfig struct {
	Logger *slog.Logger

	Health  *HealthHandler
	Metrics *MetricsHandler
	Auth    *AuthHandler
	Google  *GoogleHandler
	Notes   *NoteHandler

	// RequireUser is the bearer-token guard applied to protected routes.
	RequireUser func(http.Handler) http.Handler

	RateLimit          middleware.RateLimitConfig
	CORS               middleware.CORSConfig
	Security           middleware.SecurityConfig
	MaxRequestBodySize int64
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Health endpoints (no auth required)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitIP(cfg.RateLimit))

			r.Post("/signup", cfg.Auth.Signup)
			r.Post("/verify-otp", cfg.Auth.VerifyOTP)
			r.Post("/login", cfg.Auth.Login)
			r.Post("/send-login-otp", cfg.Auth.SendLoginOTP)
			r.Post("/verify-login-otp", cfg.Auth.VerifyLoginOTP)

			r.Get("/google", cfg.Google.Start)
			r.Get("/google/callback", cfg.Google.Callback)
		})

		r.With(cfg.RequireUser).Get("/me", cfg.Auth.Me)
	})

	r.Route("/api/notes", func(r chi.Router) {
		r.Use(cfg.RequireUser)

		r.Get("/", cfg.Notes.List)
		r.Post("/", cfg.Notes.Create)
		r.Delete("/{id}", cfg.Notes.Delete)
	})

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
