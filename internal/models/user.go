package models

import (
	"time"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	Role              string // e.g., "user", "admin"
	Status            string // "active", "suspended", "disabled"
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	AccountSecurityState
}

// AccountSecurityState is the durable lockout bookkeeping stored on the user row.
// It is the source of truth whenever the cache is unreachable or disagrees.
type AccountSecurityState struct {
	LockedUntil            *time.Time
	FailedLoginAttempts    int
	LastFailedLoginAttempt *time.Time
}

// IsLockedAt reports whether the durable lock is still in force at now.
func (s AccountSecurityState) IsLockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
