package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/ticketguard/internal/breaker"
	"github.com/BradenHooton/ticketguard/internal/cache"
	"github.com/BradenHooton/ticketguard/internal/metrics"
	"github.com/BradenHooton/ticketguard/internal/models"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Breaker operation names for lockout cache calls
const (
	opLockoutIncr = "lockout.incr"
	opLockoutGet  = "lockout.get"
	opLockoutSet  = "lockout.set"
	opLockoutDel  = "lockout.del"
)

func attemptsKey(email string) string { return "lockout:attempts:" + email }
func lockKey(email string) string     { return "lockout:lock:" + email }

// SecurityStateStore is the durable side of the lockout tracker.
type SecurityStateStore interface {
	GetSecurityState(ctx context.Context, email string) (*models.AccountSecurityState, error)
	IncrementFailedAttempts(ctx context.Context, email string, at time.Time, window time.Duration) (int, error)
	SetLockout(ctx context.Context, email string, until time.Time, attempts int, at time.Time) error
	ClearSecurityState(ctx context.Context, email string) error
}

// LockoutConfig holds the lockout policy
type LockoutConfig struct {
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	LockoutDuration   time.Duration
	// FailClosed reports accounts as locked when neither store can be read.
	FailClosed bool
}

// LockoutService tracks failed logins per identifier and locks accounts.
// The cache is a hint; the durable store is authoritative.
type LockoutService struct {
	cache       cache.Cache
	breakers    *breaker.Registry
	store       SecurityStateStore
	rateLimiter *RateLimitService
	tally       *LockoutMetrics
	collector   *metrics.Collector
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	config      LockoutConfig
	now         func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(
	c cache.Cache,
	breakers *breaker.Registry,
	store SecurityStateStore,
	rateLimiter *RateLimitService,
	tally *LockoutMetrics,
	collector *metrics.Collector,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
	config LockoutConfig,
) *LockoutService {
	return &LockoutService{
		cache:       c,
		breakers:    breakers,
		store:       store,
		rateLimiter: rateLimiter,
		tally:       tally,
		collector:   collector,
		auditLogger: auditLogger,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock, for simulated time in tests.
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

// LockoutDuration is the configured lock length.
func (s *LockoutService) LockoutDuration() time.Duration {
	return s.config.LockoutDuration
}

// RecordFailedAttempt counts one failed login for email. When the count reaches
// the threshold the account is locked and the expiry is returned; otherwise the
// result is nil. Every call increments the durable counter.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, email string) (*time.Time, error) {
	email = NormalizeEmail(email)
	now := s.now().UTC()

	count, cacheErr := breaker.Execute(ctx, s.breakers, opLockoutIncr, func(ctx context.Context) (int64, error) {
		return s.cache.IncrWithExpiry(ctx, attemptsKey(email), s.config.AttemptWindow)
	})
	if cacheErr != nil {
		s.tally.RecordFailure(opLockoutIncr, cacheErr)
		s.collector.LockoutFallbacksTotal.WithLabelValues(opLockoutIncr).Inc()
		s.logger.Warn("failed attempt counter unavailable, using durable count",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", cacheErr))
	} else {
		s.tally.RecordSuccess(opLockoutIncr)
	}

	knownAccount := true
	durableCount, err := s.store.IncrementFailedAttempts(ctx, email, now, s.config.AttemptWindow)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to record failed attempt: %w", err)
		}
		knownAccount = false
	}

	attempts, source := int(count), "cache"
	if cacheErr != nil && !knownAccount {
		return nil, nil
	}
	// The durable count survives cache flushes and outages, so it wins when higher.
	if knownAccount && (cacheErr != nil || durableCount > attempts) {
		attempts, source = durableCount, "durable"
	}

	if attempts < s.config.MaxFailedAttempts {
		return nil, nil
	}

	until := now.Add(s.config.LockoutDuration)

	// Unknown identifiers are locked in the cache only, so they behave like real
	// accounts without creating durable rows.
	if knownAccount {
		if err := s.store.SetLockout(ctx, email, until, attempts, now); err != nil {
			return nil, fmt.Errorf("failed to persist lockout: %w", err)
		}
	}
	s.writeCacheLock(ctx, email, until, now)

	s.collector.LockoutsTotal.WithLabelValues(source).Inc()
	s.logger.Warn("account locked",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Int("attempts", attempts),
		slog.String("source", source),
		slog.Time("locked_until", until))
	s.auditLogger.LogLockout(ctx, email, attempts, until)

	return &until, nil
}

// IsLocked reports whether email is currently locked.
func (s *LockoutService) IsLocked(ctx context.Context, email string) bool {
	locked, _ := s.Status(ctx, email)
	return locked
}

// GetLockedUntil returns the lock expiry, or nil when not locked or unknown.
func (s *LockoutService) GetLockedUntil(ctx context.Context, email string) *time.Time {
	_, until := s.Status(ctx, email)
	return until
}

// Status resolves the lock: cache record first, then durable state. A cache record
// for a known account is confirmed against the durable state, which clears it when
// stale. When both stores are unreadable the configured policy decides and until is nil.
func (s *LockoutService) Status(ctx context.Context, email string) (locked bool, until *time.Time) {
	email = NormalizeEmail(email)

	until, err := s.lookup(ctx, email)
	if err != nil {
		s.logger.Error("lock state unavailable from both stores",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Bool("fail_closed", s.config.FailClosed),
			slog.Any("error", err))
		return s.config.FailClosed, nil
	}
	return until != nil, until
}

func (s *LockoutService) lookup(ctx context.Context, email string) (*time.Time, error) {
	now := s.now().UTC()

	raw, cacheErr := breaker.Execute(ctx, s.breakers, opLockoutGet, func(ctx context.Context) (string, error) {
		val, err := s.cache.Get(ctx, lockKey(email))
		if errors.Is(err, cache.ErrMiss) {
			return "", nil
		}
		return val, err
	})

	var cached *time.Time
	if cacheErr != nil {
		s.tally.RecordFailure(opLockoutGet, cacheErr)
		s.collector.LockoutFallbacksTotal.WithLabelValues(opLockoutGet).Inc()
	} else {
		s.tally.RecordSuccess(opLockoutGet)
		if raw != "" {
			if until, err := time.Parse(time.RFC3339Nano, raw); err == nil && now.Before(until) {
				cached = &until
			}
		}
	}

	state, err := s.store.GetSecurityState(ctx, email)
	if err != nil {
		// Unknown accounts are locked in the cache only.
		if errors.Is(err, models.ErrNotFound) {
			return cached, nil
		}
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("failed to read security state: %w", err)
	}
	if !state.IsLockedAt(now) {
		if cached != nil {
			s.dropStaleCacheLock(ctx, email)
		}
		return nil, nil
	}
	if cached != nil {
		return cached, nil
	}

	until := state.LockedUntil.UTC()
	// Re-warm the hint only when the cache answered and simply had no record.
	if cacheErr == nil {
		s.writeCacheLock(ctx, email, until, now)
	}
	return &until, nil
}

func (s *LockoutService) writeCacheLock(ctx context.Context, email string, until, now time.Time) {
	ttl := until.Sub(now)
	if ttl <= 0 {
		return
	}
	err := breaker.Do(ctx, s.breakers, opLockoutSet, func(ctx context.Context) error {
		return s.cache.Set(ctx, lockKey(email), until.Format(time.RFC3339Nano), ttl)
	})
	if err != nil {
		s.tally.RecordFailure(opLockoutSet, err)
		s.logger.Warn("failed to cache lockout record",
			slog.String("email", pkglogger.SanitizedEmail(email)), slog.Any("error", err))
		return
	}
	s.tally.RecordSuccess(opLockoutSet)
}

// dropStaleCacheLock removes a cached lock the durable store no longer backs, such
// as one left behind by a clear whose cache delete failed.
func (s *LockoutService) dropStaleCacheLock(ctx context.Context, email string) {
	err := breaker.Do(ctx, s.breakers, opLockoutDel, func(ctx context.Context) error {
		return s.cache.Delete(ctx, lockKey(email))
	})
	if err != nil {
		s.tally.RecordFailure(opLockoutDel, err)
		return
	}
	s.tally.RecordSuccess(opLockoutDel)
	s.logger.Info("dropped stale cached lockout record",
		slog.String("email", pkglogger.SanitizedEmail(email)))
}

// ClearFailedAttempts forgets the failure streak for email: both cache entries and
// the login rate-limit counter are dropped (best effort) and the durable fields
// are reset. Returns models.ErrNotFound for an unknown account after clearing the cache.
func (s *LockoutService) ClearFailedAttempts(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	var g errgroup.Group
	g.Go(func() error {
		return breaker.Do(ctx, s.breakers, opLockoutDel, func(ctx context.Context) error {
			return s.cache.Delete(ctx, attemptsKey(email), lockKey(email))
		})
	})
	g.Go(func() error {
		s.rateLimiter.ResetRateLimit(ctx, LoginKey(email))
		return nil
	})
	if err := g.Wait(); err != nil {
		s.tally.RecordFailure(opLockoutDel, err)
		s.logger.Warn("failed to clear cached lockout state",
			slog.String("email", pkglogger.SanitizedEmail(email)), slog.Any("error", err))
	} else {
		s.tally.RecordSuccess(opLockoutDel)
	}

	if err := s.store.ClearSecurityState(ctx, email); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to clear security state: %w", err)
	}
	return nil
}

// Unlock is the administrative form of ClearFailedAttempts.
func (s *LockoutService) Unlock(ctx context.Context, email, actorID string) error {
	if err := s.ClearFailedAttempts(ctx, email); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventUnlock,
		UserID:    actorID,
		Email:     NormalizeEmail(email),
		Success:   true,
	})
	return nil
}
