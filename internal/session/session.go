package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/atsn/emily/store"
)

// Key under which the session is stored.
const Key = "session"

// Tokens this close to expiry are refreshed before use.
const expirySkew = 30 * time.Second

// ErrNotAuthenticated is returned when an operation needs a session and there is none.
var ErrNotAuthenticated = errors.New("not authenticated")

// Session is the signed in user and their credentials.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired is true when the access token cannot be used at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt.Add(-expirySkew))
}

// Authenticator exchanges credentials for sessions.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProfileInvalidator drops the cached profile of a user.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Manager persists the session in the store.
type Manager struct {
	store  store.Store
	auth   Authenticator
	logger *zap.Logger
	now    func() time.Time

	// mu serializes refreshes.
	mu       sync.Mutex
	profiles ProfileInvalidator
}

// NewManager returns a session manager. auth may be nil, in which case sessions
// can neither be created nor refreshed.
func NewManager(s store.Store, auth Authenticator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, auth: auth, logger: logger, now: time.Now}
}

// SetProfileInvalidator registers the profile cache cleared on logout.
func (m *Manager) SetProfileInvalidator(profiles ProfileInvalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = profiles
}

// Login signs in and persists the session.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	if m.auth == nil {
		return nil, errors.New("authentication is not configured")
	}
	session, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, errors.Wrap(err, "signing in")
	}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Current returns the stored session, or nil when there is none.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	value, found, err := m.store.Get(ctx, Key)
	if err != nil {
		return nil, errors.Wrap(err, "reading session")
	}
	if !found {
		return nil, nil
	}
	session := &Session{}
	if err := json.Unmarshal([]byte(value), session); err != nil {
		return nil, errors.Wrap(err, "unmarshaling session")
	}
	if session.UserID == "" {
		session.UserID = Subject(session.AccessToken)
	}
	return session, nil
}

// Token returns a usable bearer token, refreshing it when it expired.
// It returns an empty token when there is no usable session.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.Current(ctx)
	if err != nil || session == nil {
		return "", err
	}
	if !session.Expired(m.now()) {
		return session.AccessToken, nil
	}
	if m.auth == nil || session.RefreshToken == "" {
		m.logger.Debug("session expired")
		return "", nil
	}

	refreshed, err := m.auth.Refresh(ctx, session.RefreshToken)
	if err != nil {
		m.logger.Warn("refreshing session", zap.Error(err))
		return "", nil
	}
	if err := m.save(ctx, refreshed); err != nil {
		m.logger.Debug("persisting refreshed session", zap.Error(err))
	}
	return refreshed.AccessToken, nil
}

// Logout removes the session and the cached profile of its user.
func (m *Manager) Logout(ctx context.Context) error {
	session, err := m.Current(ctx)
	if err != nil {
		m.logger.Debug("reading session on logout", zap.Error(err))
	}
	if session == nil {
		return m.store.Remove(ctx, Key)
	}

	m.mu.Lock()
	profiles := m.profiles
	m.mu.Unlock()
	if profiles != nil && session.UserID != "" {
		if err := profiles.Invalidate(ctx, session.UserID); err != nil {
			m.logger.Debug("invalidating profile", zap.Error(err))
		}
	}
	if m.auth != nil {
		if err := m.auth.SignOut(ctx, session.AccessToken); err != nil {
			m.logger.Debug("signing out", zap.Error(err))
		}
	}
	if err := m.store.Remove(ctx, Key); err != nil {
		return errors.Wrap(err, "removing session")
	}
	return nil
}

func (m *Manager) save(ctx context.Context, session *Session) error {
	if session.UserID == "" {
		session.UserID = Subject(session.AccessToken)
	}
	bytes, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshaling session")
	}
	if err := m.store.Set(ctx, Key, string(bytes)); err != nil {
		return errors.Wrap(err, "persisting session")
	}
	return nil
}

// Subject returns the sub claim of an access token, without verifying it.
// The backend verifies every token it receives.
func Subject(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}
