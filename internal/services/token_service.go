package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/BradenHooton/ticketguard/internal/repositories"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
)

// UserReader loads users by id.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// DeviceInfo is the request metadata bound to a new session.
type DeviceInfo struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the result of a login or refresh
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"-"`
}

// TokenService issues access tokens and session-backed refresh tokens.
type TokenService struct {
	tm          *auth.TokenManager
	sessions    *SessionService
	users       UserReader
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewTokenService creates a new TokenService
func NewTokenService(tm *auth.TokenManager, sessions *SessionService, users UserReader, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *TokenService {
	return &TokenService{
		tm:          tm,
		sessions:    sessions,
		users:       users,
		auditLogger: auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock, for simulated time in tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// GenerateTokens mints a token pair for user and persists the refresh token as
// a new session. The session cap is enforced in the same transaction as the insert.
func (s *TokenService) GenerateTokens(ctx context.Context, user *models.User, device DeviceInfo) (*TokenPair, error) {
	refreshToken, err := s.tm.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	var (
		session *models.Session
		evicted int
	)
	err = s.sessions.Transact(ctx, func(tx repositories.SessionTx) error {
		var err error
		evicted, err = s.sessions.EnforceSessionLimitTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		session = s.newSession(user.ID, refreshToken, device)
		return tx.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.sessions.ReportEvictions(ctx, user.ID, evicted)

	return s.pair(user, session)
}

// RotateRefreshToken redeems refreshToken: its session is deactivated and a new
// pair bound to a new session is returned. Unknown, inactive or expired tokens
// yield models.ErrUnauthorized.
func (s *TokenService) RotateRefreshToken(ctx context.Context, refreshToken string, device DeviceInfo) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	newToken, err := s.tm.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	var (
		user    *models.User
		session *models.Session
		evicted int
	)
	err = s.sessions.Transact(ctx, func(tx repositories.SessionTx) error {
		now := s.now().UTC()

		old, err := tx.GetActiveByToken(ctx, refreshToken, now)
		if err != nil {
			return err
		}

		user, err = s.users.GetByID(ctx, old.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrSessionNotFound
			}
			return err
		}
		if err := validateAccountState(user); err != nil {
			return err
		}

		if _, err := tx.Deactivate(ctx, []string{old.ID}, models.SessionReasonRotated, now); err != nil {
			return err
		}

		evicted, err = s.sessions.EnforceSessionLimitTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		session = s.newSession(user.ID, newToken, device)
		return tx.Create(ctx, session)
	})
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, models.ErrUnauthorized
		}
		if errors.Is(err, models.ErrAccountDisabled) || errors.Is(err, models.ErrAccountSuspended) {
			s.logger.Info("refresh blocked due to account state", slog.Any("error", err))
			return nil, models.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	s.sessions.ReportEvictions(ctx, user.ID, evicted)

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRefresh,
		UserID:    user.ID,
		IPAddress: device.IPAddress,
		Success:   true,
	})

	return s.pair(user, session)
}

func (s *TokenService) newSession(userID, token string, device DeviceInfo) *models.Session {
	now := s.now().UTC()
	return &models.Session{
		UserID:       userID,
		SessionToken: token,
		IPAddress:    device.IPAddress,
		UserAgent:    device.UserAgent,
		DeviceID:     s.sessions.GenerateDeviceID(device.UserAgent, device.IPAddress),
		DeviceName:   s.sessions.ExtractDeviceName(device.UserAgent),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.tm.RefreshTokenExpiry()),
	}
}

func (s *TokenService) pair(user *models.User, session *models.Session) (*TokenPair, error) {
	accessToken, expiresAt, err := s.tm.GenerateAccessToken(user, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     session.SessionToken,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: session.ExpiresAt,
		SessionID:        session.ID,
		UserID:           user.ID,
	}, nil
}
