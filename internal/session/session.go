// Package session holds the signed-in user's identity and tracks whether the
// server still accepts it.
//
// The token is a JWT issued by the feed service. The client never verifies the
// signature; it only reads the subject and expiry so it knows which user id to
// toggle in optimistic writes. The server remains the authority.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/five82/threadline/internal/state"
)

// ErrSessionInvalid is returned once the server rejected the session.
var ErrSessionInvalid = errors.New("session invalid")

// Session is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	token     string
	userID    state.UserID
	expiresAt time.Time
	invalid   bool
	reason    error
	listeners []func(error)
	now       func() time.Time
}

// New parses token and returns a session for its subject.
func New(token string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("parse token: empty")
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("parse token: missing subject")
	}
	s := &Session{token: token, userID: state.UserID(claims.Subject), now: time.Now}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Token returns the bearer token, or "" once the session is invalid.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.invalid {
		return ""
	}
	return s.token
}

// UserID returns the signed-in user.
func (s *Session) UserID() state.UserID {
	return s.userID
}

// ExpiresAt returns the token expiry; zero when the token has none.
func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// Err reports why the session cannot be used, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.invalid {
		return fmt.Errorf("%w: %v", ErrSessionInvalid, s.reason)
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return fmt.Errorf("%w: token expired at %s", ErrSessionInvalid, s.expiresAt.Format(time.RFC3339))
	}
	return nil
}

// Valid is Err() == nil.
func (s *Session) Valid() bool {
	return s.Err() == nil
}

// OnInvalid registers fn to run once when the session is invalidated.
func (s *Session) OnInvalid(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Invalidate marks the session unusable. Only the first call notifies listeners.
func (s *Session) Invalidate(reason error) {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return
	}
	s.invalid = true
	s.reason = reason
	listeners := append([]func(error){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}
