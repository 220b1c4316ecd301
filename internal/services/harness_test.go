package services

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/breaker"
	"github.com/BradenHooton/ticketguard/internal/cache"
	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/metrics"
	pkgauth "github.com/BradenHooton/ticketguard/pkg/auth"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// newFakeClock starts at the wall clock so issued JWTs verify against real time.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBreakerSettings() breaker.Settings {
	return breaker.Settings{
		FailureRatio:      0.5,
		MinimumThroughput: 4,
		SamplingDuration:  10 * time.Second,
		BreakDuration:     30 * time.Second,
		OperationTimeout:  time.Second,
	}
}

func testLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxFailedAttempts: 5,
		AttemptWindow:     15 * time.Minute,
		LockoutDuration:   30 * time.Minute,
	}
}

// testRetryPolicy retries without sleeping, enough times for the concurrency tests.
func testRetryPolicy() database.RetryPolicy {
	p := database.NewRetryPolicy(100)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		runtime.Gosched()
		return nil
	}
	return p
}

// harness wires every service against miniredis and in-memory durable fakes.
type harness struct {
	clock     *fakeClock
	mr        *miniredis.Miniredis
	cache     *cache.RedisCache
	collector *metrics.Collector
	breakers  *breaker.Registry
	store     *FakeSecurityStore
	sessStore *FakeSessionStore
	users     *MockUserRepository
	attempts  *MockLoginAttemptRecorder
	hasher    *pkgauth.Hasher
	tally     *LockoutMetrics

	rateLimiter *RateLimitService
	lockout     *LockoutService
	sessions    *SessionService
	tokens      *TokenService
	auth        *AuthService
	tm          *auth.TokenManager
}

type harnessOption func(*harnessOptions)

type harnessOptions struct {
	lockout   LockoutConfig
	maxActive int
	emails    []string
}

func withLockoutConfig(cfg LockoutConfig) harnessOption {
	return func(o *harnessOptions) { o.lockout = cfg }
}

func withKnownEmails(emails ...string) harnessOption {
	return func(o *harnessOptions) { o.emails = append(o.emails, emails...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	o := harnessOptions{lockout: testLockoutConfig(), maxActive: 5}
	for _, opt := range opts {
		opt(&o)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := discardLogger()
	auditLogger := pkglogger.NewAuditLogger(logger)
	clock := newFakeClock()
	collector := metrics.NewNopCollector()
	breakers := breaker.NewRegistry(testBreakerSettings(), logger, collector, breaker.WithClock(clock.Now))

	hasher, err := pkgauth.NewHasher(4)
	require.NoError(t, err)

	h := &harness{
		clock:     clock,
		mr:        mr,
		cache:     cache.NewRedisCache(rdb),
		collector: collector,
		breakers:  breakers,
		store:     NewFakeSecurityStore(o.emails...),
		sessStore: NewFakeSessionStore(),
		users:     &MockUserRepository{},
		attempts:  &MockLoginAttemptRecorder{},
		hasher:    hasher,
		tally:     NewLockoutMetrics(10, collector, logger),
		tm:        auth.NewTokenManager(testJWTSecret, time.Hour, 7*24*time.Hour),
	}

	h.rateLimiter = NewRateLimitService(h.cache, breakers, collector, logger)
	h.lockout = NewLockoutService(h.cache, breakers, h.store, h.rateLimiter, h.tally, collector, auditLogger, logger, o.lockout).
		WithClock(clock.Now)
	h.sessions = NewSessionService(h.sessStore, SessionConfig{MaxActiveSessions: o.maxActive, TxMaxRetries: 3}, collector, auditLogger, logger).
		WithClock(clock.Now).
		WithRetryPolicy(testRetryPolicy())
	h.tokens = NewTokenService(h.tm, h.sessions, h.users, auditLogger, logger).WithClock(clock.Now)
	h.auth = NewAuthService(h.users, hasher, h.lockout, h.rateLimiter, h.tokens, h.sessions, h.attempts, nil, auditLogger, logger,
		AuthConfig{LoginRateLimit: 10, LoginRateWindow: 15 * time.Minute, LoginAuditRetention: 30 * 24 * time.Hour}).
		WithClock(clock.Now)

	return h
}

// advance moves both the simulated clock and the cache's TTL clock.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.mr.FastForward(d)
}

// cacheDown makes every cache command fail.
func (h *harness) cacheDown() {
	h.mr.SetError("connection reset by peer")
}

func (h *harness) cacheUp() {
	h.mr.SetError("")
}
