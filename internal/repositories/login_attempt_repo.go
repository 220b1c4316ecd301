package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/models"
)

// LoginAttemptRepository stores the login audit trail. Rows carry their own
// expiry so retention can change without rewriting history.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const insertLoginAttempt = `
	INSERT INTO login_attempts
		(email, ip_address, user_agent, attempt_time, success, failure_reason, device_fingerprint, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	_, err := r.db.Pool.Exec(ctx, insertLoginAttempt,
		attempt.Email, attempt.IPAddress, attempt.UserAgent, attempt.AttemptTime,
		attempt.Success, attempt.FailureReason, attempt.DeviceFingerprint, attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// DeleteExpiredAttempts purges rows whose retention ended at or before now.
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
