package models

import "time"

// Session deactivation reasons
const (
	SessionReasonLogout        = "logout"
	SessionReasonLogoutAll     = "logout_all"
	SessionReasonSessionLimit  = "session_limit"
	SessionReasonRotated       = "rotated"
	SessionReasonPasswordReset = "password_reset"
	SessionReasonExpired       = "expired"
)

// Session is a refresh-token-backed login session bound to one device.
// Rows are deactivated, never deleted, so the audit trail survives.
type Session struct {
	ID                 string
	UserID             string
	SessionToken       string
	IPAddress          string
	UserAgent          string
	DeviceID           string
	DeviceName         string
	IsActive           bool
	CreatedAt          time.Time
	LastActivity       time.Time
	ExpiresAt          time.Time
	DeactivatedAt      *time.Time
	DeactivationReason *string
}

// IsUsableAt reports whether the session is active and unexpired at now.
func (s *Session) IsUsableAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SessionSummary is the client-facing view of a session; it never carries the token.
type SessionSummary struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name"`
	IPAddress    string    `json:"ip_address"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Summary converts a session row into its client-facing view.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		DeviceName:   s.DeviceName,
		IPAddress:    s.IPAddress,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
	}
}
