package routes

import (
	"net/http"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/handlers"
	"github.com/BradenHooton/ticketguard/internal/middleware"
	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies carries everything RegisterRoutes wires onto the router
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler
	TokenManager  *auth.TokenManager
	UserRepo      auth.UserRepository
	IPConfig      *pkghttp.IPConfig
	// Metrics serves the Prometheus registry; nil leaves /metrics unmounted.
	Metrics http.Handler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	rateLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit(), deps.IPConfig)

	router.Get("/health", deps.HealthHandler.Health)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	// Public routes - no authentication required
	router.With(rateLimit).Post("/auth/login", deps.AuthHandler.Login)
	router.With(rateLimit).Post("/auth/refresh", deps.AuthHandler.RefreshToken)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager))

		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Post("/auth/logout-all", deps.AuthHandler.LogoutAll)
		r.Get("/auth/sessions", deps.AuthHandler.ListSessions)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.UserRepo, "admin"))
			r.Post("/admin/unlock", deps.AdminHandler.Unlock)
		})
	})
}
