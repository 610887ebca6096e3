// ABOUTME: In-memory implementation of the store interfaces
// ABOUTME: Used for single-process deployments without persistence and in tests

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions, contact messages and items in process memory.
// Tokens are held in plain form; they never leave the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	contacts []*ContactMessage
	items    map[string]map[string]Item // keyed by user ID, then item ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		items:    make(map[string]map[string]Item),
	}
}

// SaveSession stores a copy of sess.
func (m *MemoryStore) SaveSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.ID] = copySession(sess)
	return nil
}

// GetSession returns a copy of a live session.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok || !sess.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// DeleteSession removes a session.
func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// ListSessionsExpiringBefore returns refreshable sessions ordered by access expiry.
func (m *MemoryStore) ListSessionsExpiringBefore(ctx context.Context, before time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var out []*Session
	for _, sess := range m.sessions {
		if refreshable(sess, before, now) {
			out = append(out, copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessExpiry.Before(out[j].AccessExpiry)
	})
	return out, nil
}

// DeleteExpiredSessions removes sessions past their hard lifetime.
func (m *MemoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, sess := range m.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// SaveContactMessage stores a contact form submission.
func (m *MemoryStore) SaveContactMessage(ctx context.Context, msg *ContactMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *msg
	m.contacts = append(m.contacts, &c)
	return nil
}

// ListContactMessages returns up to limit submissions, newest first.
func (m *MemoryStore) ListContactMessages(ctx context.Context, limit int) ([]*ContactMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ContactMessage, 0, len(m.contacts))
	for i := len(m.contacts) - 1; i >= 0 && len(out) < limit; i-- {
		c := *m.contacts[i]
		out = append(out, &c)
	}
	return out, nil
}

// ListItems returns a user's items ordered by name.
func (m *MemoryStore) ListItems(ctx context.Context, userID string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Item, 0, len(m.items[userID]))
	for _, it := range m.items[userID] {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// UpsertItem inserts or updates an item.
func (m *MemoryStore) UpsertItem(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items[item.UserID] == nil {
		m.items[item.UserID] = make(map[string]Item)
	}
	m.items[item.UserID][item.ID] = item
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ ContactStore = (*MemoryStore)(nil)
	_ ItemStore    = (*MemoryStore)(nil)
)
