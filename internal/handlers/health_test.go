package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/ticketguard/internal/handlers"
	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		database   handlers.Pinger
		cache      handlers.Pinger
		wantStatus int
		want       handlers.HealthResponse
	}{
		{name: "all up", database: up, cache: up, wantStatus: http.StatusOK,
			want: handlers.HealthResponse{Status: "healthy", Database: "up", Cache: "up"}},
		{name: "cache down", database: up, cache: down, wantStatus: http.StatusOK,
			want: handlers.HealthResponse{Status: "degraded", Database: "up", Cache: "down"}},
		{name: "database down", database: down, cache: up, wantStatus: http.StatusServiceUnavailable,
			want: handlers.HealthResponse{Status: "unhealthy", Database: "down", Cache: "up"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewHealthHandler(tt.database, tt.cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
			w := httptest.NewRecorder()

			h.Health(w, httptest.NewRequest("GET", "/health", nil))

			var got handlers.HealthResponse
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &got)
			assert.Equal(t, tt.want, got)
		})
	}
}
