package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/BradenHooton/ticketguard/internal/services"
	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		Type:             models.TokenTypeAccess,
		Email:            email,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc     func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	RefreshFunc   func(ctx context.Context, refreshToken string, device services.DeviceInfo) (*services.TokenPair, error)
	LogoutFunc    func(ctx context.Context, userID, refreshToken string) error
	LogoutAllFunc func(ctx context.Context, userID string) (int64, error)
	UnlockFunc    func(ctx context.Context, email, actorID string) error
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, device services.DeviceInfo) (*services.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken, device)
}

func (m *MockAuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, refreshToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockAuthService) UnlockAccount(ctx context.Context, email, actorID string) error {
	if m.UnlockFunc == nil {
		return nil
	}
	return m.UnlockFunc(ctx, email, actorID)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	GetActiveSessionsFunc func(ctx context.Context, userID string) ([]models.SessionSummary, error)
}

func (m *MockSessionService) GetActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	if m.GetActiveSessionsFunc == nil {
		return []models.SessionSummary{}, nil
	}
	return m.GetActiveSessionsFunc(ctx, userID)
}
