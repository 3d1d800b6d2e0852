// Package session owns the signed-in user's OIDC session: it builds authorization
// requests, completes redirect callbacks, persists and restores the session, renews it
// silently and signs out. It is the only package that talks to the identity provider
// and to the secure store.
package session

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Session is the credential set of one authenticated principal.
type Session struct {
	// Core identity
	Subject string         `json:"sub"`
	Profile map[string]any `json:"profile"`

	// Tokens
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`

	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether s is present and not expired at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// Expired is the negation of Valid.
func (s *Session) Expired(now time.Time) bool {
	return !s.Valid(now)
}

// ExpiresIn is the time left before expiry; zero or negative once expired.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Clone returns a deep enough copy that callers cannot mutate the manager's session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Profile = cloneClaims(s.Profile)
	c.Scopes = slices.Clone(s.Scopes)
	return &c
}

func cloneClaims(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	// Nested claim values are read-only.
	return maps.Clone(m)
}

func (s *Session) marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalSession(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
