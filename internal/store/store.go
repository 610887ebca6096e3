// ABOUTME: Store interfaces and data types for platform-engine persistence
// ABOUTME: Defines browser sessions, contact messages and user items

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSealerRequired is returned when a persistent store is built without a token sealer
var ErrSealerRequired = errors.New("token sealer required")

// Session is one browser's authenticated session. The token fields are kept
// sealed at rest by the persistent backends.
type Session struct {
	ID      string
	Subject string

	AccessToken   string
	RefreshToken  string
	IDToken       string
	AccessExpiry  time.Time
	RefreshExpiry time.Time // zero when the provider did not report one

	// Profile holds the user's profile claims (userinfo, or id token claims as fallback).
	Profile map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // hard session lifetime
}

// ContactMessage is a submission from the public contact form
type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Subject   string
	Message   string
	Language  string
	RemoteIP  string
	CreatedAt time.Time
}

// Item belongs to one user and is served read-only by the items API
type Item struct {
	ID          string `json:"id"`
	UserID      string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionStore persists browser sessions.
type SessionStore interface {
	// SaveSession creates or replaces a session.
	SaveSession(ctx context.Context, sess *Session) error

	// GetSession returns ErrNotFound for unknown or expired sessions.
	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session. Deleting an unknown session is not an error.
	DeleteSession(ctx context.Context, id string) error

	// ListSessionsExpiringBefore returns live sessions whose access token
	// expires before the given time and which still hold a refresh token.
	ListSessionsExpiringBefore(ctx context.Context, before time.Time) ([]*Session, error)

	// DeleteExpiredSessions removes sessions past their hard lifetime.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// ContactStore persists contact form submissions.
type ContactStore interface {
	SaveContactMessage(ctx context.Context, msg *ContactMessage) error
	ListContactMessages(ctx context.Context, limit int) ([]*ContactMessage, error)
}

// ItemStore serves the per-user item lists.
type ItemStore interface {
	ListItems(ctx context.Context, userID string) ([]Item, error)
	UpsertItem(ctx context.Context, item Item) error
}

// copySession returns a deep-enough copy so callers cannot mutate stored state.
func copySession(s *Session) *Session {
	c := *s
	if s.Profile != nil {
		c.Profile = make(map[string]any, len(s.Profile))
		for k, v := range s.Profile {
			c.Profile[k] = v
		}
	}
	return &c
}

// refreshable reports whether the refresher should consider the session.
func refreshable(s *Session, before, now time.Time) bool {
	if s.RefreshToken == "" || !s.ExpiresAt.After(now) {
		return false
	}
	return s.AccessExpiry.Before(before)
}
