package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both pgx.Row and pgx.Rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, password_hash, name, role, status,
	failed_login_attempts, last_failed_login_attempt, locked_until,
	password_changed_at, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name, &user.Role, &user.Status,
		&user.FailedLoginAttempts, &user.LastFailedLoginAttempt, &user.LockedUntil,
		&user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}
	if user.Status == "" {
		user.Status = "active"
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, status, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, passwordHash, user.Name, user.Role, user.Status,
		user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// GetSecurityState returns the durable lockout fields for an account.
func (r *UserRepository) GetSecurityState(ctx context.Context, email string) (*models.AccountSecurityState, error) {
	query := `
		SELECT failed_login_attempts, last_failed_login_attempt, locked_until
		FROM users WHERE email = $1
	`

	var state models.AccountSecurityState
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&state.FailedLoginAttempts, &state.LastFailedLoginAttempt, &state.LockedUntil,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &state, nil
}

// IncrementFailedAttempts adds one failure in a single statement so concurrent
// callers never lose an increment. A streak whose last failure is older than
// window restarts at 1. Returns the new count.
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, email string, at time.Time, window time.Duration) (int, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = CASE
				WHEN last_failed_login_attempt IS NULL OR last_failed_login_attempt < $3 THEN 1
				ELSE failed_login_attempts + 1
			END,
			last_failed_login_attempt = $2,
			updated_at = $2
		WHERE email = $1
		RETURNING failed_login_attempts
	`

	var count int
	err := r.pool.QueryRow(ctx, query, email, at, at.Add(-window)).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// SetLockout records a lock. The stored attempt count never moves backwards, so a
// cache count that lags the durable one cannot erase increments.
func (r *UserRepository) SetLockout(ctx context.Context, email string, until time.Time, attempts int, at time.Time) error {
	query := `
		UPDATE users SET
			locked_until = $2,
			failed_login_attempts = GREATEST(failed_login_attempts, $3),
			last_failed_login_attempt = $4,
			updated_at = $4
		WHERE email = $1
	`

	result, err := r.pool.Exec(ctx, query, email, until, attempts, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ClearSecurityState resets the three lockout fields.
func (r *UserRepository) ClearSecurityState(ctx context.Context, email string) error {
	query := `
		UPDATE users SET
			failed_login_attempts = 0,
			last_failed_login_attempt = NULL,
			locked_until = NULL,
			updated_at = NOW()
		WHERE email = $1
	`

	result, err := r.pool.Exec(ctx, query, email)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
