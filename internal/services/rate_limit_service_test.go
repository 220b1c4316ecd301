package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/ticketguard/internal/breaker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitService_AllowsLimitThenDeniesUntilWindowElapses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := LoginKey("User@Example.com")
	const limit = 3
	window := time.Minute

	for i := 0; i < limit; i++ {
		require.True(t, h.rateLimiter.CheckRateLimit(ctx, key, limit, window), "call %d should be allowed", i+1)
		h.rateLimiter.IncrementRateLimit(ctx, key, window)
	}

	assert.False(t, h.rateLimiter.CheckRateLimit(ctx, key, limit, window))
	assert.Equal(t, limit, h.rateLimiter.GetCurrentCount(ctx, key))

	h.advance(window)

	assert.True(t, h.rateLimiter.CheckRateLimit(ctx, key, limit, window))
	assert.Equal(t, 0, h.rateLimiter.GetCurrentCount(ctx, key))
}

func TestRateLimitService_CheckDoesNotConsume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, h.rateLimiter.CheckRateLimit(ctx, "api:client-1", 1, time.Minute))
	}
	assert.Equal(t, 0, h.rateLimiter.GetCurrentCount(ctx, "api:client-1"))
}

func TestRateLimitService_WindowIsFixedByFirstIncrement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	h.advance(40 * time.Second)
	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	h.advance(20 * time.Second)

	assert.Equal(t, 0, h.rateLimiter.GetCurrentCount(ctx, "k"))
}

func TestRateLimitService_FailsOpenWhenCacheDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	h.cacheDown()

	for i := 0; i < 10; i++ {
		assert.True(t, h.rateLimiter.CheckRateLimit(ctx, "k", 1, time.Minute))
		h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	}
	assert.Equal(t, 0, h.rateLimiter.GetCurrentCount(ctx, "k"))

	assert.Equal(t, 10.0, testutil.ToFloat64(h.collector.RateLimitDecisionsTotal.WithLabelValues("fail_open")))
	assert.Equal(t, breaker.StateOpen, h.breakers.State(opRateLimitGet))
}

func TestRateLimitService_Reset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	require.False(t, h.rateLimiter.CheckRateLimit(ctx, "k", 2, time.Minute))

	h.rateLimiter.ResetRateLimit(ctx, "k")

	assert.True(t, h.rateLimiter.CheckRateLimit(ctx, "k", 2, time.Minute))
	assert.False(t, h.mr.Exists("rl:k"))
}

func TestRateLimitService_DecisionMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.True(t, h.rateLimiter.CheckRateLimit(ctx, "k", 1, time.Minute))
	h.rateLimiter.IncrementRateLimit(ctx, "k", time.Minute)
	assert.False(t, h.rateLimiter.CheckRateLimit(ctx, "k", 1, time.Minute))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.collector.RateLimitDecisionsTotal.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.collector.RateLimitDecisionsTotal.WithLabelValues("deny")))
}

func TestKeyType(t *testing.T) {
	assert.Equal(t, "login", keyType(LoginKey("a@b.com")))
	assert.Equal(t, "custom", keyType("nocolon"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "login:user@example.com", LoginKey("USER@example.com"))
}
