// ABOUTME: Proactive access token renewal for browser sessions
// ABOUTME: On-demand UpdateToken plus a background refresher; renewal failure ends the session

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/store"
)

// UpdateToken renews the session's tokens when fewer than minValidity remain
// on the access token, and returns the current session. Refreshes of one
// session are serialized. If the provider rejects the renewal the session is
// deleted and ErrSessionEnded is returned; there is no retry.
func (m *Manager) UpdateToken(ctx context.Context, sessionID string, minValidity time.Duration) (*store.Session, error) {
	if minValidity <= 0 {
		minValidity = m.opts.MinValidity
	}

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	// Re-read under the lock: a concurrent caller may already have renewed.
	sess, err := m.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if !identity.ExpiresWithin(sess.AccessExpiry, minValidity, time.Now()) {
		return sess, nil
	}

	tok, err := m.client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("token renewal failed, ending session", "subject", sess.Subject, "error", err)
		m.observer.ObserveAuth("refresh", "error")
		if derr := m.sessions.DeleteSession(context.WithoutCancel(ctx), sessionID); derr != nil {
			m.logger.Error("deleting session after failed renewal", "error", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionEnded, err)
	}

	sess.AccessToken = tok.AccessToken
	sess.RefreshToken = tok.RefreshToken
	sess.AccessExpiry = tok.Expiry
	if !tok.RefreshExpiry.IsZero() {
		sess.RefreshExpiry = tok.RefreshExpiry
	}
	if tok.IDToken != "" {
		sess.IDToken = tok.IDToken
	}
	sess.UpdatedAt = time.Now()

	if err := m.sessions.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving renewed session: %w", err)
	}

	m.observer.ObserveAuth("refresh", "ok")
	m.logger.Debug("access token renewed", "subject", sess.Subject, "expires", sess.AccessExpiry)
	return sess, nil
}

// RunRefresher renews sessions approaching expiry every interval until ctx is
// done. Expired sessions are purged on the same schedule.
func (m *Manager) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshDue(ctx)
		}
	}
}

// refreshDue runs one refresher pass.
func (m *Manager) refreshDue(ctx context.Context) {
	if !m.available() {
		return
	}

	due, err := m.sessions.ListSessionsExpiringBefore(ctx, time.Now().Add(m.opts.MinValidity))
	if err != nil {
		m.logger.Error("listing sessions due for renewal", "error", err)
		return
	}

	for _, sess := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.UpdateToken(ctx, sess.ID, m.opts.MinValidity); err != nil && !errors.Is(err, ErrSessionEnded) && !errors.Is(err, ErrNoSession) {
			m.logger.Error("renewing session", "error", err)
		}
	}

	if n, err := m.sessions.DeleteExpiredSessions(ctx, time.Now()); err != nil {
		m.logger.Error("purging expired sessions", "error", err)
	} else if n > 0 {
		m.logger.Debug("purged expired sessions", "count", n)
	}
}
