package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-IP request limits for public endpoints
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit returns the edge limit for unauthenticated auth endpoints (20 requests per minute).
// The per-email login limiter in the services layer is the finer-grained control.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 20,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests per client IP, resolving the address the same way the handlers do
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
