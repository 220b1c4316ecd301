package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/models"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
)

// failClosedRetryAfter is reported when the lock state is unknown and the
// tracker fails closed.
const failClosedRetryAfter = time.Minute

// UserRepository defines the user lookups needed by login
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// PasswordVerifier checks a password against a stored hash in constant time.
type PasswordVerifier interface {
	Compare(hashedPassword, password string) error
	CompareDummy(password string)
}

// LoginAttemptRecorder stores login audit rows
type LoginAttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// AuthConfig holds the login throttling settings
type AuthConfig struct {
	LoginRateLimit      int
	LoginRateWindow     time.Duration
	LoginAuditRetention time.Duration
}

// AuthService orchestrates login: lockout, throttling, credential check and
// session-backed token issuance.
type AuthService struct {
	users       UserRepository
	hasher      PasswordVerifier
	lockout     *LockoutService
	rateLimiter *RateLimitService
	tokens      *TokenService
	sessions    *SessionService
	attempts    LoginAttemptRecorder
	delay       *auth.FailureDelay
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	config      AuthConfig
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	hasher PasswordVerifier,
	lockout *LockoutService,
	rateLimiter *RateLimitService,
	tokens *TokenService,
	sessions *SessionService,
	attempts LoginAttemptRecorder,
	delay *auth.FailureDelay,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
	config AuthConfig,
) *AuthService {
	return &AuthService{
		users:       users,
		hasher:      hasher,
		lockout:     lockout,
		rateLimiter: rateLimiter,
		tokens:      tokens,
		sessions:    sessions,
		attempts:    attempts,
		delay:       delay,
		auditLogger: auditLogger,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock, for simulated time in tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// LoginRequest carries the credentials and the caller's device metadata
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse represents the response from login
type AuthResponse struct {
	*TokenPair
	User *UserResponse `json:"user"`
}

// Login authenticates a user and opens a new session.
// Errors: *models.LockedError, models.ErrRateLimitExceeded, models.ErrUnauthorized,
// models.ErrAccountDisabled, models.ErrAccountSuspended, models.ErrInternalServer.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	began := time.Now()
	email := NormalizeEmail(req.Email)
	if email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	if locked, until := s.lockout.Status(ctx, email); locked {
		lockedUntil := s.now().UTC().Add(failClosedRetryAfter)
		if until != nil {
			lockedUntil = *until
		}
		s.recordAttempt(ctx, req, email, models.FailureReasonLocked)
		return nil, &models.LockedError{Until: lockedUntil}
	}

	key := LoginKey(email)
	if !s.rateLimiter.CheckRateLimit(ctx, key, s.config.LoginRateLimit, s.config.LoginRateWindow) {
		s.logger.Info("login throttled", slog.String("email", pkglogger.SanitizedEmail(email)))
		s.recordAttempt(ctx, req, email, models.FailureReasonRateLimited)
		return nil, models.ErrRateLimitExceeded
	}
	s.rateLimiter.IncrementRateLimit(ctx, key, s.config.LoginRateWindow)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user == nil {
		s.hasher.CompareDummy(req.Password)
		return nil, s.failCredentials(ctx, req, email, began)
	}
	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, s.failCredentials(ctx, req, email, began)
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.recordAttempt(ctx, req, email, models.FailureReasonAccountBlocked)
		return nil, err
	}

	if err := s.lockout.ClearFailedAttempts(ctx, email); err != nil {
		s.logger.Error("failed to clear failed attempts",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	pair, err := s.tokens.GenerateTokens(ctx, user, DeviceInfo{IPAddress: req.IPAddress, UserAgent: req.UserAgent})
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordAttempt(ctx, req, email, "")
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		UserID:    user.ID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return &AuthResponse{TokenPair: pair, User: userModelToResponse(user)}, nil
}

// failCredentials records a failed credential check and pads the response time.
func (s *AuthService) failCredentials(ctx context.Context, req LoginRequest, email string, began time.Time) error {
	until, err := s.lockout.RecordFailedAttempt(ctx, email)
	if err != nil {
		s.logger.Error("failed to record failed attempt",
			slog.String("email", pkglogger.SanitizedEmail(email)), slog.Any("error", err))
	}

	s.recordAttempt(ctx, req, email, models.FailureReasonInvalidCredentials)
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLogin,
		Email:         email,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: models.FailureReasonInvalidCredentials,
	})

	_ = s.delay.WaitFrom(ctx, began)

	if until != nil {
		return &models.LockedError{Until: *until}
	}
	return models.ErrUnauthorized
}

// recordAttempt writes the login audit row. Best effort.
func (s *AuthService) recordAttempt(ctx context.Context, req LoginRequest, email, failureReason string) {
	if s.attempts == nil {
		return
	}

	now := s.now().UTC()
	attempt := &models.LoginAttempt{
		Email:             email,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		AttemptTime:       now,
		Success:           failureReason == "",
		DeviceFingerprint: s.sessions.GenerateDeviceID(req.UserAgent, req.IPAddress),
		ExpiresAt:         now.Add(s.config.LoginAuditRetention),
	}
	if failureReason != "" {
		attempt.FailureReason = &failureReason
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Warn("failed to record login attempt", slog.Any("error", err))
	}
}

// Refresh rotates a refresh token into a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device DeviceInfo) (*TokenPair, error) {
	pair, err := s.tokens.RotateRefreshToken(ctx, refreshToken, device)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			s.logger.Info("refresh rejected")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to rotate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", pair.UserID))
	return pair, nil
}

// Logout ends the session holding refreshToken. Unknown sessions are not an error.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if _, err := s.sessions.LogoutFromDevice(ctx, userID, refreshToken); err != nil {
		s.logger.Error("failed to log out session", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// LogoutAll ends every session of the user and returns how many were active.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.LogoutAllDevices(ctx, userID)
	if err != nil {
		s.logger.Error("failed to log out all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	s.logger.Info("user logged out from all devices", slog.String("user_id", userID), slog.Int64("sessions", n))
	return n, nil
}

// UnlockAccount clears the lockout state of email on behalf of actorID.
func (s *AuthService) UnlockAccount(ctx context.Context, email, actorID string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return models.ErrBadRequest
	}

	if err := s.lockout.Unlock(ctx, email, actorID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to unlock account",
			slog.String("email", pkglogger.SanitizedEmail(email)), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// validateAccountState checks if user account is in valid state for authentication
func validateAccountState(user *models.User) error {
	switch user.Status {
	case "disabled":
		return models.ErrAccountDisabled
	case "suspended":
		return models.ErrAccountSuspended
	case "active":
		return nil
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}
