//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newSession(userID, token string, createdAt time.Time) *models.Session {
	return &models.Session{
		UserID:       userID,
		SessionToken: token,
		IPAddress:    "203.0.113.7",
		UserAgent:    "test-agent",
		DeviceID:     "device",
		DeviceName:   "Unknown device",
		CreatedAt:    createdAt,
		LastActivity: createdAt,
		ExpiresAt:    createdAt.Add(7 * 24 * time.Hour),
	}
}

func TestSessionRepository_CreateListDeactivate(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := seedUser(t, "sessions@example.com")
	now := time.Now().UTC()

	err := repo.InTx(ctx, database.NewRetryPolicy(0), func(tx SessionTx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Create(ctx, newSession(user.ID, fmt.Sprintf("tok-%d", i), now.Add(time.Duration(i)*time.Second))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	active, err := repo.ListActive(ctx, user.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "tok-0", active[0].SessionToken, "oldest first")

	n, err := repo.DeactivateByToken(ctx, user.ID, "tok-1", models.SessionReasonLogout, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeactivateByToken(ctx, user.ID, "tok-1", models.SessionReasonLogout, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second logout is a no-op")

	n, err = repo.DeactivateAllForUser(ctx, user.ID, models.SessionReasonLogoutAll, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err = repo.ListActive(ctx, user.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionRepository_DuplicateTokenConflicts(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := seedUser(t, "dup-token@example.com")
	now := time.Now().UTC()

	create := func(tx SessionTx) error { return tx.Create(ctx, newSession(user.ID, "same", now)) }
	require.NoError(t, repo.InTx(ctx, database.NewRetryPolicy(0), create))
	assert.ErrorIs(t, repo.InTx(ctx, database.NewRetryPolicy(0), create), models.ErrConflict)
}

func TestSessionRepository_DeactivateExpired(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := seedUser(t, "expired@example.com")
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)

	require.NoError(t, repo.InTx(ctx, database.NewRetryPolicy(0), func(tx SessionTx) error {
		return tx.Create(ctx, newSession(user.ID, "old", past))
	}))

	n, err := repo.DeactivateExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var reason string
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT deactivation_reason FROM sessions WHERE session_token = 'old'`).Scan(&reason))
	assert.Equal(t, models.SessionReasonExpired, reason)
}

// Concurrent cap-then-insert units on one account never leave more than cap active sessions.
func TestSessionRepository_ConcurrentCappedInsertsRespectCap(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := seedUser(t, "busy@example.com")
	const sessionCap = 5

	policy := database.NewRetryPolicy(20)
	now := time.Now().UTC()

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		i := i
		g.Go(func() error {
			return repo.InTx(ctx, policy, func(tx SessionTx) error {
				if err := tx.LockUser(ctx, user.ID); err != nil {
					return err
				}
				active, err := tx.ListActive(ctx, user.ID, now)
				if err != nil {
					return err
				}
				if excess := len(active) - (sessionCap - 1); excess > 0 {
					ids := make([]string, 0, excess)
					for _, s := range active[:excess] {
						ids = append(ids, s.ID)
					}
					if _, err := tx.Deactivate(ctx, ids, models.SessionReasonSessionLimit, now); err != nil {
						return err
					}
				}
				return tx.Create(ctx, newSession(user.ID, fmt.Sprintf("c-%d", i), now.Add(time.Duration(i)*time.Millisecond)))
			})
		})
	}
	require.NoError(t, g.Wait())

	active, err := repo.ListActive(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Len(t, active, sessionCap)
}

func TestLoginAttemptRepository_RecordAndPurge(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := NewLoginAttemptRepository(testDB)
	now := time.Now().UTC()
	reason := models.FailureReasonInvalidCredentials

	require.NoError(t, repo.RecordAttempt(ctx, &models.LoginAttempt{
		Email: "audit@example.com", AttemptTime: now, Success: false, FailureReason: &reason,
		ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, repo.RecordAttempt(ctx, &models.LoginAttempt{
		Email: "audit@example.com", AttemptTime: now, Success: false, FailureReason: &reason,
		ExpiresAt: now.Add(time.Hour),
	}))

	purged, err := repo.DeleteExpiredAttempts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE email = $1`, "audit@example.com").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
