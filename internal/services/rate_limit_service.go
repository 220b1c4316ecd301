package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/ticketguard/internal/breaker"
	"github.com/BradenHooton/ticketguard/internal/cache"
	"github.com/BradenHooton/ticketguard/internal/metrics"
)

// Breaker operation names for rate limiter cache calls
const (
	opRateLimitGet  = "ratelimit.get"
	opRateLimitIncr = "ratelimit.incr"
	opRateLimitDel  = "ratelimit.del"
)

// NormalizeEmail is the canonical form of an account identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginKey is the rate limit key for login attempts against one identifier.
func LoginKey(email string) string {
	return "login:" + NormalizeEmail(email)
}

func rateLimitKey(key string) string {
	return "rl:" + key
}

// RateLimitService is a fixed-window counter on the cache's atomic increment.
// Every cache failure fails open: the request is allowed and the error is logged.
type RateLimitService struct {
	cache    cache.Cache
	breakers *breaker.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(c cache.Cache, breakers *breaker.Registry, m *metrics.Collector, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		cache:    c,
		breakers: breakers,
		metrics:  m,
		logger:   logger,
	}
}

// CheckRateLimit reports whether one more unit is allowed for key. It does not
// consume a unit. The window is fixed by the IncrementRateLimit call that opened it.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) bool {
	count, err := s.currentCount(ctx, key)
	if err != nil {
		s.logger.Warn("rate limit check failed, allowing request",
			slog.String("key_type", keyType(key)),
			slog.Duration("window", window),
			slog.Any("error", err))
		s.metrics.RateLimitDecisionsTotal.WithLabelValues("fail_open").Inc()
		return true
	}

	if count < int64(limit) {
		s.metrics.RateLimitDecisionsTotal.WithLabelValues("allow").Inc()
		return true
	}

	s.metrics.RateLimitDecisionsTotal.WithLabelValues("deny").Inc()
	return false
}

// IncrementRateLimit records one unit of usage. The first unit in a window sets its expiry.
func (s *RateLimitService) IncrementRateLimit(ctx context.Context, key string, window time.Duration) {
	err := breaker.Do(ctx, s.breakers, opRateLimitIncr, func(ctx context.Context) error {
		_, err := s.cache.IncrWithExpiry(ctx, rateLimitKey(key), window)
		return err
	})
	if err != nil {
		s.logger.Warn("rate limit increment failed",
			slog.String("key_type", keyType(key)), slog.Any("error", err))
	}
}

// GetCurrentCount returns the usage recorded for key, or 0 if it cannot be read.
func (s *RateLimitService) GetCurrentCount(ctx context.Context, key string) int {
	count, err := s.currentCount(ctx, key)
	if err != nil {
		s.logger.Warn("rate limit count unavailable",
			slog.String("key_type", keyType(key)), slog.Any("error", err))
		return 0
	}
	return int(count)
}

// ResetRateLimit drops the counter for key. Best effort.
func (s *RateLimitService) ResetRateLimit(ctx context.Context, key string) {
	err := breaker.Do(ctx, s.breakers, opRateLimitDel, func(ctx context.Context) error {
		return s.cache.Delete(ctx, rateLimitKey(key))
	})
	if err != nil {
		s.logger.Warn("rate limit reset failed",
			slog.String("key_type", keyType(key)), slog.Any("error", err))
	}
}

func (s *RateLimitService) currentCount(ctx context.Context, key string) (int64, error) {
	return breaker.Execute(ctx, s.breakers, opRateLimitGet, func(ctx context.Context) (int64, error) {
		val, err := s.cache.Get(ctx, rateLimitKey(key))
		if errors.Is(err, cache.ErrMiss) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		count, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt rate limit counter: %w", err)
		}
		return count, nil
	})
}

// keyType keeps identifiers out of logs: "login:user@example.com" logs as "login".
func keyType(key string) string {
	if prefix, _, ok := strings.Cut(key, ":"); ok {
		return prefix
	}
	return "custom"
}
