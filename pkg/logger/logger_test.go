package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "u***@*******.com", SanitizedEmail("user@example.com"))
	assert.Equal(t, "a@****.io", SanitizedEmail("a@test.io"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("no-at-sign"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("a@b@c"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("refresh_token=abc"))
	assert.True(t, SanitizeQueryString("Email=x"))
	assert.False(t, SanitizeQueryString("page=2&limit=10"))
}

func TestAuditLogger_LogLockout(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	al.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	al.LogLockout(context.Background(), "user@example.com", 5, time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "auth", record["audit_type"])
	assert.Equal(t, EventLockout, record["event_type"])
	assert.Equal(t, "u***@*******.com", record["email"])
	assert.Equal(t, "5", record["attempts"])
	assert.Equal(t, "2026-01-01T00:30:00Z", record["locked_until"])
}

func TestAuditLogger_SuccessLogsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogSessionAction(context.Background(), EventLogoutAll, "user-1", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "3", record["sessions"])
	assert.Equal(t, "user-1", record["user_id"])
}
