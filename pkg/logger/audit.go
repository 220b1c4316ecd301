package logger

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Audit event types
const (
	EventLogin           = "login"
	EventRefresh         = "token_refresh"
	EventLockout         = "account_lockout"
	EventUnlock          = "account_unlock"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventSessionsEvicted = "sessions_evicted"
	EventSessionsRevoked = "sessions_revoked"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured records with audit_type=auth.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger, now: time.Now}
}

// Log records event at Info on success and Warn otherwise. Emails are masked.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockout records an account crossing the failed-attempt threshold.
func (al *AuditLogger) LogLockout(ctx context.Context, email string, attempts int, until time.Time) {
	al.Log(ctx, AuditEvent{
		EventType: EventLockout,
		Email:     email,
		Success:   false,
		Metadata: map[string]string{
			"attempts":     strconv.Itoa(attempts),
			"locked_until": until.UTC().Format(time.RFC3339),
		},
	})
}

// LogSessionAction records logout, logout-all, cap evictions and revocations.
func (al *AuditLogger) LogSessionAction(ctx context.Context, eventType, userID string, affected int64) {
	al.Log(ctx, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"sessions": strconv.FormatInt(affected, 10)},
	})
}
