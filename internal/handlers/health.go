package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports the reachability of each dependency.
// Only the durable store is required; a cache outage degrades but does not fail the check.
type HealthHandler struct {
	database Pinger
	cache    Pinger
	timeout  time.Duration
	logger   *slog.Logger
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func NewHealthHandler(database, cache Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{database: database, cache: cache, timeout: 2 * time.Second, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var mu sync.Mutex
	resp := HealthResponse{Status: "healthy", Database: "up", Cache: "up"}

	check := func(p Pinger, name string, set func(string)) func() error {
		return func() error {
			if err := p.HealthCheck(ctx); err != nil {
				h.logger.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
				mu.Lock()
				set("down")
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(check(h.database, "database", func(s string) { resp.Database = s }))
	g.Go(check(h.cache, "cache", func(s string) { resp.Cache = s }))
	_ = g.Wait()

	status := http.StatusOK
	switch {
	case resp.Database == "down":
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case resp.Cache == "down":
		resp.Status = "degraded"
	}

	pkghttp.WriteJSON(w, status, resp)
}
