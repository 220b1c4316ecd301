package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/BradenHooton/ticketguard/internal/repositories"
	"github.com/google/uuid"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// MockLoginAttemptRecorder implements LoginAttemptRecorder for testing
type MockLoginAttemptRecorder struct {
	RecordAttemptFunc func(ctx context.Context, attempt *models.LoginAttempt) error

	mu       sync.Mutex
	Attempts []*models.LoginAttempt
}

func (m *MockLoginAttemptRecorder) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	m.Attempts = append(m.Attempts, attempt)
	m.mu.Unlock()

	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

// Reasons returns the failure reason of each recorded attempt, "" for successes.
func (m *MockLoginAttemptRecorder) Reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.Attempts))
	for _, a := range m.Attempts {
		if a.FailureReason == nil {
			out = append(out, "")
			continue
		}
		out = append(out, *a.FailureReason)
	}
	return out
}

// FakeSecurityStore is an in-memory SecurityStateStore with the same counting
// rules as the Postgres repository.
type FakeSecurityStore struct {
	mu     sync.Mutex
	states map[string]*models.AccountSecurityState
	// Err, when set, fails every call.
	Err error
}

func NewFakeSecurityStore(emails ...string) *FakeSecurityStore {
	s := &FakeSecurityStore{states: make(map[string]*models.AccountSecurityState)}
	for _, email := range emails {
		s.states[NormalizeEmail(email)] = &models.AccountSecurityState{}
	}
	return s
}

func (s *FakeSecurityStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *FakeSecurityStore) GetSecurityState(ctx context.Context, email string) (*models.AccountSecurityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	state, ok := s.states[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (s *FakeSecurityStore) IncrementFailedAttempts(ctx context.Context, email string, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	state, ok := s.states[email]
	if !ok {
		return 0, models.ErrNotFound
	}
	if state.LastFailedLoginAttempt == nil || state.LastFailedLoginAttempt.Before(at.Add(-window)) {
		state.FailedLoginAttempts = 1
	} else {
		state.FailedLoginAttempts++
	}
	last := at
	state.LastFailedLoginAttempt = &last
	return state.FailedLoginAttempts, nil
}

func (s *FakeSecurityStore) SetLockout(ctx context.Context, email string, until time.Time, attempts int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	state, ok := s.states[email]
	if !ok {
		return models.ErrNotFound
	}
	lockedUntil, last := until, at
	state.LockedUntil = &lockedUntil
	state.LastFailedLoginAttempt = &last
	if attempts > state.FailedLoginAttempts {
		state.FailedLoginAttempts = attempts
	}
	return nil
}

func (s *FakeSecurityStore) ClearSecurityState(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.states[email]; !ok {
		return models.ErrNotFound
	}
	s.states[email] = &models.AccountSecurityState{}
	return nil
}

// State returns a copy of the durable state for email.
func (s *FakeSecurityStore) State(email string) models.AccountSecurityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[email]; ok {
		return *state
	}
	return models.AccountSecurityState{}
}

// FakeSessionStore is an in-memory SessionStore. Transactions work on a private
// copy and commit only if no other commit happened since they began; otherwise
// they fail with models.ErrConcurrencyConflict, like a serializable transaction.
type FakeSessionStore struct {
	mu       sync.Mutex
	version  int
	sessions []models.Session
	// ConflictsLeft forces that many commits to fail with a conflict.
	ConflictsLeft int
	// Commits counts successful transaction commits.
	Commits int
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{}
}

func (s *FakeSessionStore) InTx(ctx context.Context, policy database.RetryPolicy, fn func(repositories.SessionTx) error) error {
	return policy.Do(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		tx := &fakeSessionTx{sessions: append([]models.Session(nil), s.sessions...)}
		started := s.version
		s.mu.Unlock()

		if err := fn(tx); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ConflictsLeft > 0 {
			s.ConflictsLeft--
			return models.ErrConcurrencyConflict
		}
		if s.version != started {
			return models.ErrConcurrencyConflict
		}
		s.sessions = tx.sessions
		s.version++
		s.Commits++
		return nil
	})
}

func (s *FakeSessionStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeSessions(s.sessions, userID, now), nil
}

func (s *FakeSessionStore) DeactivateByToken(ctx context.Context, userID, token, reason string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := deactivateWhere(s.sessions, reason, now, func(sess *models.Session) bool {
		return sess.UserID == userID && sess.SessionToken == token
	})
	if n > 0 {
		s.version++
	}
	return n, nil
}

func (s *FakeSessionStore) DeactivateAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := deactivateWhere(s.sessions, reason, now, func(sess *models.Session) bool {
		return sess.UserID == userID
	})
	if n > 0 {
		s.version++
	}
	return n, nil
}

func (s *FakeSessionStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == sessionID {
			s.sessions[i].LastActivity = now
		}
	}
	return nil
}

// Seed inserts session directly, bypassing the cap.
func (s *FakeSessionStore) Seed(session models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.IsActive = true
	s.sessions = append(s.sessions, session)
	s.version++
}

// All returns a copy of every stored session, active or not.
func (s *FakeSessionStore) All() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Session(nil), s.sessions...)
}

// Get returns the session with id.
func (s *FakeSessionStore) Get(id string) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return models.Session{}, false
}

type fakeSessionTx struct {
	sessions []models.Session
}

// LockUser is a no-op; the commit-time version check provides the isolation.
func (tx *fakeSessionTx) LockUser(ctx context.Context, userID string) error {
	return nil
}

func (tx *fakeSessionTx) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	return activeSessions(tx.sessions, userID, now), nil
}

func (tx *fakeSessionTx) Deactivate(ctx context.Context, ids []string, reason string, now time.Time) (int64, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return deactivateWhere(tx.sessions, reason, now, func(sess *models.Session) bool {
		return wanted[sess.ID]
	}), nil
}

func (tx *fakeSessionTx) Create(ctx context.Context, session *models.Session) error {
	for _, existing := range tx.sessions {
		if existing.SessionToken == session.SessionToken {
			return models.ErrConflict
		}
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.IsActive = true
	tx.sessions = append(tx.sessions, *session)
	return nil
}

func (tx *fakeSessionTx) GetActiveByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	for _, sess := range tx.sessions {
		if sess.SessionToken == token && sess.IsUsableAt(now) {
			found := sess
			return &found, nil
		}
	}
	return nil, models.ErrSessionNotFound
}

func activeSessions(all []models.Session, userID string, now time.Time) []*models.Session {
	out := make([]*models.Session, 0)
	for _, sess := range all {
		if sess.UserID == userID && sess.IsUsableAt(now) {
			found := sess
			out = append(out, &found)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func deactivateWhere(all []models.Session, reason string, now time.Time, match func(*models.Session) bool) int64 {
	var n int64
	for i := range all {
		sess := &all[i]
		if !sess.IsActive || !match(sess) {
			continue
		}
		sess.IsActive = false
		at, why := now, reason
		sess.DeactivatedAt = &at
		sess.DeactivationReason = &why
		n++
	}
	return n
}

// NewTestUser creates a test user
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:        id,
		Email:     email,
		Name:      name,
		Role:      "user",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestUserWithPassword creates a test user with a password hash
func NewTestUserWithPassword(id, email, name, passwordHash string) *models.User {
	user := NewTestUser(id, email, name)
	user.PasswordHash = passwordHash
	return user
}

// NewTestUserWithStatus creates a test user with a specific status
func NewTestUserWithStatus(id, email, name, status string) *models.User {
	user := NewTestUser(id, email, name)
	user.Status = status
	return user
}
