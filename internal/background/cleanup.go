package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredSessionDeactivator flags sessions past their expiry as inactive.
type ExpiredSessionDeactivator interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptPurger deletes login audit rows past their retention.
type LoginAttemptPurger interface {
	DeleteExpiredAttempts(ctx context.Context, now time.Time) (int64, error)
}

// CleanupManager periodically retires expired sessions and purges old login attempts
type CleanupManager struct {
	sessions ExpiredSessionDeactivator
	attempts LoginAttemptPurger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions ExpiredSessionDeactivator,
	attempts LoginAttemptPurger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		attempts: attempts,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs one cleanup pass. A failure in one step does not skip the other.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now().UTC()

	deactivated, err := cm.sessions.DeactivateExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to deactivate expired sessions", slog.Any("error", err))
	} else if deactivated > 0 {
		cm.logger.Info("expired sessions deactivated", slog.Int64("sessions", deactivated))
	}

	purged, err := cm.attempts.DeleteExpiredAttempts(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to purge login attempts", slog.Any("error", err))
	} else if purged > 0 {
		cm.logger.Info("expired login attempts purged", slog.Int64("rows_deleted", purged))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
