// Package session holds the authenticated identity and bearer credential.
// It owns no messaging logic; re-authentication is the caller's job.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chatsync/internal/model"
)

// Session is the current user identity plus credential. Safe for concurrent
// use; the token can be swapped after re-authentication.
type Session struct {
	UserID   string
	Username string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// New builds a session from an auth response. The token's exp claim is
// parsed without signature verification (the backend verifies; the client
// only needs to know when re-auth is due). Opaque tokens get no expiry.
func New(auth model.AuthResponse) *Session {
	s := &Session{
		UserID:   auth.UserID,
		Username: auth.Username,
	}
	s.SetToken(auth.Token)
	return s
}

// Token returns the current bearer credential.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken swaps the credential after re-authentication.
func (s *Session) SetToken(token string) {
	exp := parseExpiry(token)
	s.mu.Lock()
	s.token = token
	s.expiresAt = exp
	s.mu.Unlock()
}

// Expired reports whether the credential is known to be past its exp claim.
// Tokens without a readable expiry are never reported expired.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.expiresAt.IsZero() && time.Now().After(s.expiresAt)
}

func parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
