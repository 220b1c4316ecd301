package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/metrics"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/BradenHooton/ticketguard/internal/repositories"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
)

// SessionStore is the durable session table.
type SessionStore interface {
	InTx(ctx context.Context, policy database.RetryPolicy, fn func(repositories.SessionTx) error) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	DeactivateByToken(ctx context.Context, userID, token, reason string, now time.Time) (int64, error)
	DeactivateAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)
	Touch(ctx context.Context, sessionID string, now time.Time) error
}

// SessionConfig holds the session cap and transaction retry budget
type SessionConfig struct {
	MaxActiveSessions int
	TxMaxRetries      int
}

// SessionService caps concurrent sessions per account and invalidates sessions.
type SessionService struct {
	store       SessionStore
	maxActive   int
	policy      database.RetryPolicy
	collector   *metrics.Collector
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(store SessionStore, config SessionConfig, collector *metrics.Collector, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *SessionService {
	maxActive := config.MaxActiveSessions
	if maxActive < 1 {
		maxActive = 1
	}

	policy := database.NewRetryPolicy(config.TxMaxRetries)
	policy.OnRetry = func(retry int, err error) {
		collector.SessionTxRetriesTotal.Inc()
		logger.Debug("retrying session transaction", slog.Int("retry", retry), slog.Any("error", err))
	}

	return &SessionService{
		store:       store,
		maxActive:   maxActive,
		policy:      policy,
		collector:   collector,
		auditLogger: auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock, for simulated time in tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// WithRetryPolicy replaces the transaction retry policy, keeping the retry metric hook.
func (s *SessionService) WithRetryPolicy(policy database.RetryPolicy) *SessionService {
	if policy.OnRetry == nil {
		policy.OnRetry = s.policy.OnRetry
	}
	s.policy = policy
	return s
}

// Transact runs fn as one serializable unit, retried on conflict. Callers that
// enforce the cap and insert a session must do both inside the same fn.
func (s *SessionService) Transact(ctx context.Context, fn func(tx repositories.SessionTx) error) error {
	return s.store.InTx(ctx, s.policy, fn)
}

// EnforceSessionLimit makes room for exactly one new session for userID by
// deactivating the oldest active sessions. Returns the number deactivated.
func (s *SessionService) EnforceSessionLimit(ctx context.Context, userID string) (int, error) {
	var evicted int
	err := s.Transact(ctx, func(tx repositories.SessionTx) error {
		var err error
		evicted, err = s.EnforceSessionLimitTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.reportEvictions(ctx, userID, evicted)
	return evicted, nil
}

// EnforceSessionLimitTx is EnforceSessionLimit inside the caller's transaction.
// The caller reports evictions after commit via ReportEvictions.
func (s *SessionService) EnforceSessionLimitTx(ctx context.Context, tx repositories.SessionTx, userID string) (int, error) {
	now := s.now().UTC()

	if err := tx.LockUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("failed to lock user sessions: %w", err)
	}

	active, err := tx.ListActive(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if len(active) < s.maxActive {
		return 0, nil
	}

	excess := len(active) - (s.maxActive - 1)
	ids := make([]string, 0, excess)
	for _, session := range active[:excess] {
		ids = append(ids, session.ID)
	}

	n, err := tx.Deactivate(ctx, ids, models.SessionReasonSessionLimit, now)
	if err != nil {
		return 0, fmt.Errorf("failed to evict sessions: %w", err)
	}
	return int(n), nil
}

// ReportEvictions records committed cap evictions.
func (s *SessionService) ReportEvictions(ctx context.Context, userID string, evicted int) {
	s.reportEvictions(ctx, userID, evicted)
}

func (s *SessionService) reportEvictions(ctx context.Context, userID string, evicted int) {
	if evicted == 0 {
		return
	}
	s.collector.SessionsEvictedTotal.Add(float64(evicted))
	s.logger.Info("session cap reached, oldest sessions deactivated",
		slog.String("user_id", userID),
		slog.Int("evicted", evicted),
		slog.Int("max_active_sessions", s.maxActive))
	s.auditLogger.LogSessionAction(ctx, pkglogger.EventSessionsEvicted, userID, int64(evicted))
}

// GetActiveSessions lists the user's active sessions, oldest first.
func (s *SessionService) GetActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	sessions, err := s.store.ListActive(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	return summaries, nil
}

// LogoutFromDevice deactivates the session holding sessionToken. Unknown or
// already inactive sessions are not an error; the return is the number deactivated.
func (s *SessionService) LogoutFromDevice(ctx context.Context, userID, sessionToken string) (int64, error) {
	n, err := s.store.DeactivateByToken(ctx, userID, sessionToken, models.SessionReasonLogout, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to log out session: %w", err)
	}
	if n > 0 {
		s.auditLogger.LogSessionAction(ctx, pkglogger.EventLogout, userID, n)
	}
	return n, nil
}

// LogoutAllDevices deactivates every active session of the user.
func (s *SessionService) LogoutAllDevices(ctx context.Context, userID string) (int64, error) {
	n, err := s.InvalidateAllSessions(ctx, userID, models.SessionReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	s.auditLogger.LogSessionAction(ctx, pkglogger.EventLogoutAll, userID, n)
	return n, nil
}

// InvalidateAllSessions deactivates every active session with reason, e.g. after
// a password reset. Idempotent.
func (s *SessionService) InvalidateAllSessions(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.store.DeactivateAllForUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	if n > 0 && reason != models.SessionReasonLogoutAll {
		s.auditLogger.LogSessionAction(ctx, pkglogger.EventSessionsRevoked, userID, n)
	}
	return n, nil
}

// Touch records activity on a session.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.store.Touch(ctx, sessionID, s.now().UTC())
}

func (s *SessionService) GenerateDeviceID(userAgent, ipAddress string) string {
	return auth.GenerateDeviceID(userAgent, ipAddress)
}

func (s *SessionService) ExtractDeviceName(userAgent string) string {
	return auth.ExtractDeviceName(userAgent)
}
