package models

import "time"

// LoginAttempt is an audit row for a single login attempt
type LoginAttempt struct {
	ID                string    `db:"id"`
	Email             string    `db:"email"`
	IPAddress         string    `db:"ip_address"`
	UserAgent         string    `db:"user_agent"`
	AttemptTime       time.Time `db:"attempt_time"`
	Success           bool      `db:"success"`
	FailureReason     *string   `db:"failure_reason"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	ExpiresAt         time.Time `db:"expires_at"`
}

// Login failure reasons recorded on audit rows
const (
	FailureReasonInvalidCredentials = "invalid_credentials"
	FailureReasonLocked             = "account_locked"
	FailureReasonRateLimited        = "rate_limited"
	FailureReasonAccountBlocked     = "account_blocked"
)
