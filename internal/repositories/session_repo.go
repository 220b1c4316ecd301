package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionTx is the set of session operations available inside one transaction.
type SessionTx interface {
	// LockUser takes a row lock on the owning user so concurrent logins for the
	// same account serialize on it.
	LockUser(ctx context.Context, userID string) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	Deactivate(ctx context.Context, ids []string, reason string, now time.Time) (int64, error)
	Create(ctx context.Context, session *models.Session) error
	GetActiveByToken(ctx context.Context, token string, now time.Time) (*models.Session, error)
}

type SessionRepository struct {
	db *database.DB
	q  *sessionQueries
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db, q: &sessionQueries{q: db.Pool}}
}

// InTx runs fn in a serializable transaction, retried under policy on conflict.
func (r *SessionRepository) InTx(ctx context.Context, policy database.RetryPolicy, fn func(SessionTx) error) error {
	return r.db.WithSerializableRetry(ctx, policy, func(tx pgx.Tx) error {
		return fn(&sessionQueries{q: tx})
	})
}

// ListActive returns the user's active, unexpired sessions oldest first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	return r.q.ListActive(ctx, userID, now)
}

// DeactivateByToken deactivates one of the user's sessions. Returns 0 when the
// session is unknown, belongs to someone else, or is already inactive.
func (r *SessionRepository) DeactivateByToken(ctx context.Context, userID, token, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, deactivated_at = $4, deactivation_reason = $3
		WHERE user_id = $1 AND session_token = $2 AND is_active
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, token, reason, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, deactivated_at = $3, deactivation_reason = $2
		WHERE user_id = $1 AND is_active
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, reason, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// DeactivateExpired flags sessions past their expiry as inactive. Rows are kept.
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, deactivated_at = $1, deactivation_reason = $2
		WHERE is_active AND expires_at <= $1
	`

	result, err := r.db.Pool.Exec(ctx, query, now, models.SessionReasonExpired)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, sessionID, now)
	return database.MapPostgresError(err)
}

// sessionQueries implements SessionTx over either the pool or a transaction.
type sessionQueries struct {
	q database.Querier
}

const sessionColumns = `id, user_id, session_token, ip_address, user_agent, device_id, device_name,
	is_active, created_at, last_activity, expires_at, deactivated_at, deactivation_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.SessionToken, &s.IPAddress, &s.UserAgent, &s.DeviceID, &s.DeviceName,
		&s.IsActive, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.DeactivatedAt, &s.DeactivationReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (s *sessionQueries) LockUser(ctx context.Context, userID string) error {
	var id string
	err := s.q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	return database.MapPostgresError(err)
}

func (s *sessionQueries) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.q.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", database.MapPostgresError(err))
	}

	return sessions, nil
}

func (s *sessionQueries) Deactivate(ctx context.Context, ids []string, reason string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE sessions SET is_active = FALSE, deactivated_at = $3, deactivation_reason = $2
		WHERE id = ANY($1) AND is_active
	`

	result, err := s.q.Exec(ctx, query, ids, reason, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

func (s *sessionQueries) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.IsActive = true

	query := `
		INSERT INTO sessions (id, user_id, session_token, ip_address, user_agent, device_id, device_name,
			is_active, created_at, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)
	`

	_, err := s.q.Exec(ctx, query,
		session.ID, session.UserID, session.SessionToken, session.IPAddress, session.UserAgent,
		session.DeviceID, session.DeviceName, session.CreatedAt, session.LastActivity, session.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// GetActiveByToken returns the active, unexpired session holding token, or
// models.ErrSessionNotFound.
func (s *sessionQueries) GetActiveByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE session_token = $1 AND is_active AND expires_at > $2
		FOR UPDATE
	`

	session, err := scanSessionRow(s.q.QueryRow(ctx, query, token, now))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}
