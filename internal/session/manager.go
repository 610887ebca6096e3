// ABOUTME: Session integration boundary between browsers and the identity provider
// ABOUTME: One-shot client initialization, per-browser sessions, login/register/logout redirects and callback

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/store"
)

// Session errors
var (
	// ErrNoSession is returned when the request carries no live session.
	ErrNoSession = errors.New("no session")
	// ErrSessionEnded is returned when a failed renewal forced the session out.
	ErrSessionEnded = errors.New("session ended")
	// ErrLoading is returned by CheckReady while initialization is running.
	ErrLoading = errors.New("identity client initializing")
)

// CallbackPath is where the provider returns the browser.
const CallbackPath = "/auth/callback"

// silentErrors are callback errors that mean "no provider session" for prompt=none.
var silentErrors = map[string]bool{
	"login_required":             true,
	"interaction_required":       true,
	"consent_required":           true,
	"account_selection_required": true,
}

// Boundary is what the view layer sees of the session integration.
type Boundary interface {
	// Initialize runs the one-time identity client setup. Later calls are no-ops.
	Initialize(ctx context.Context)
	// Login redirects to the provider's interactive login.
	Login(w http.ResponseWriter, r *http.Request)
	// Register redirects to the provider's registration page.
	Register(w http.ResponseWriter, r *http.Request)
	// Logout ends the local session, then redirects to the provider's logout.
	Logout(w http.ResponseWriter, r *http.Request)
	// Status reports the session state for the request's browser.
	Status(r *http.Request) Status
}

// Status is the read-only view of the session state for one request.
type Status struct {
	// Loading is true until initialization has resolved.
	Loading bool
	// ProviderAvailable is false when initialization failed.
	ProviderAvailable bool
	ProviderErr       error

	Authenticated bool
	// User holds the loaded profile claims (nil when anonymous).
	User identity.Claims
	// IDClaims are the claims of the session's id token.
	IDClaims identity.Claims
	Session  *store.Session
}

// UserID is the subject of the id token, or "".
func (s Status) UserID() string {
	if s.Session == nil {
		return ""
	}
	if sub := s.IDClaims.Subject(); sub != "" {
		return sub
	}
	return s.Session.Subject
}

// Observer receives authentication events, e.g. for metrics.
type Observer interface {
	ObserveAuth(event, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveAuth(string, string) {}

// Options configures a Manager.
type Options struct {
	// BaseURL is the external site origin. When empty it is derived per request.
	BaseURL     string
	CookieName  string
	SessionTTL  time.Duration
	MinValidity time.Duration
	InitTimeout time.Duration
	SilentCheck bool
	// Locale optionally returns the ui_locales hint for a request.
	Locale   func(r *http.Request) string
	Observer Observer
}

// Manager implements Boundary. The identity client and loading flag are
// process-wide; authentication state lives in per-browser sessions.
type Manager struct {
	client   identity.Client
	sessions store.SessionStore
	pending  *PendingStore
	opts     Options
	observer Observer
	locks    *keyedMutex
	logger   *slog.Logger

	cookieless *cookielessSet

	once    sync.Once
	loading atomic.Bool
	ready   chan struct{}

	mu      sync.RWMutex
	initErr error
}

// NewManager creates a Manager in the loading state.
func NewManager(client identity.Client, sessions store.SessionStore, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "platform_session"
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.MinValidity == 0 {
		opts.MinValidity = 70 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}

	m := &Manager{
		client:   client,
		sessions: sessions,
		pending:  NewPendingStore(PendingTTL, 10000),
		opts:     opts,
		observer: obs,
		locks:    newKeyedMutex(),
		logger:   slog.Default().With("component", "session"),
		ready:    make(chan struct{}),

		cookieless: newCookielessSet(10000),
	}
	m.loading.Store(true)
	return m
}

// Initialize sets up the identity client exactly once. Failure is logged and
// recorded; every browser is then anonymous. Loading ends either way.
func (m *Manager) Initialize(ctx context.Context) {
	m.once.Do(func() {
		defer func() {
			m.loading.Store(false)
			close(m.ready)
		}()

		if m.opts.InitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.opts.InitTimeout)
			defer cancel()
		}

		if err := m.client.Init(ctx); err != nil {
			m.logger.Error("identity client initialization failed", "error", err)
			m.mu.Lock()
			m.initErr = err
			m.mu.Unlock()
			m.observer.ObserveAuth("init", "error")
			return
		}
		m.observer.ObserveAuth("init", "ok")
		m.logger.Info("identity client initialized")
	})
}

// Ready is closed once initialization has resolved.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Loading reports whether initialization is still running.
func (m *Manager) Loading() bool {
	return m.loading.Load()
}

// InitErr returns the initialization failure, if any.
func (m *Manager) InitErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initErr
}

// CheckReady returns nil once the identity client is initialized and usable.
func (m *Manager) CheckReady() error {
	if m.loading.Load() {
		return ErrLoading
	}
	if err := m.InitErr(); err != nil {
		return fmt.Errorf("identity provider unavailable: %w", err)
	}
	return nil
}

// available reports whether the client handle can be used.
func (m *Manager) available() bool {
	return !m.loading.Load() && m.InitErr() == nil
}

// Close releases background resources.
func (m *Manager) Close() {
	m.pending.Close()
}

type ctxKey struct{}

// LoadSession resolves the request's session once and caches it in the context.
func (m *Manager) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := m.lookup(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, &sess)))
	})
}

// lookup reads the session named by the request cookie.
func (m *Manager) lookup(r *http.Request) (*store.Session, error) {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	sess, err := m.sessions.GetSession(r.Context(), c.Value)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		m.logger.Error("loading session", "error", err)
		return nil, err
	}
	return sess, nil
}

// Current returns the request's session or ErrNoSession.
func (m *Manager) Current(r *http.Request) (*store.Session, error) {
	if cached, ok := r.Context().Value(ctxKey{}).(**store.Session); ok {
		if *cached == nil {
			return nil, ErrNoSession
		}
		return *cached, nil
	}
	return m.lookup(r)
}

// Status reports loading, provider availability and the browser's session.
func (m *Manager) Status(r *http.Request) Status {
	st := Status{Loading: m.loading.Load()}
	if st.Loading {
		return st
	}

	st.ProviderErr = m.InitErr()
	st.ProviderAvailable = st.ProviderErr == nil
	if !st.ProviderAvailable {
		return st
	}

	sess, err := m.Current(r)
	if err != nil {
		return st
	}

	st.Authenticated = true
	st.Session = sess
	st.User = identity.Claims(sess.Profile)
	if sess.IDToken != "" {
		if claims, err := identity.UnverifiedClaims(sess.IDToken); err == nil {
			st.IDClaims = claims
		}
	}
	return st
}

// Login redirects to the provider login page. An optional ?return= local path
// selects where the browser lands afterwards; the default is the site root.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request) {
	m.startAuth(w, r, identity.ActionLogin, returnPath(r))
}

// Register redirects to the provider registration page.
func (m *Manager) Register(w http.ResponseWriter, r *http.Request) {
	m.startAuth(w, r, identity.ActionRegister, returnPath(r))
}

func (m *Manager) startAuth(w http.ResponseWriter, r *http.Request, action identity.Action, ret string) {
	if !m.available() {
		m.logger.Warn("sign-in requested while identity provider unavailable", "action", action)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	pa := Pending{
		State:      randomToken(),
		Nonce:      randomToken(),
		Verifier:   oauth2.GenerateVerifier(),
		ReturnPath: ret,
		Action:     action,
	}

	req := identity.AuthRequest{
		Action:      action,
		State:       pa.State,
		Nonce:       pa.Nonce,
		Verifier:    pa.Verifier,
		RedirectURI: m.Origin(r) + CallbackPath,
	}
	if m.opts.Locale != nil {
		req.Locale = m.opts.Locale(r)
	}

	target, err := m.client.AuthCodeURL(req)
	if err != nil {
		m.logger.Error("building authorization URL", "action", action, "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	m.pending.Put(pa)
	m.observer.ObserveAuth(string(action), "redirect")
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes an authorization: it checks state, exchanges the code,
// loads the profile and starts the browser session.
func (m *Manager) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pa, ok := m.pending.Take(q.Get("state"))
	if !ok {
		m.logger.Warn("callback with unknown or expired state")
		m.observer.ObserveAuth("callback", "invalid_state")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if pa.Action == identity.ActionSilent && !m.silentChecked(r) {
		m.logger.Debug("browser dropped the silent check cookie", "remote", r.RemoteAddr)
		m.cookieless.mark(browserKey(r), time.Now())
	}

	if e := q.Get("error"); e != "" {
		if pa.Action == identity.ActionSilent && silentErrors[e] {
			m.logger.Debug("no provider session", "error", e)
			m.observer.ObserveAuth("silent", "anonymous")
		} else {
			m.logger.Warn("provider returned error", "action", pa.Action, "error", e, "description", q.Get("error_description"))
			m.observer.ObserveAuth("callback", "provider_error")
		}
		http.Redirect(w, r, pa.ReturnPath, http.StatusSeeOther)
		return
	}

	if !m.available() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ctx := r.Context()
	tok, err := m.client.Exchange(ctx, q.Get("code"), pa.Verifier, m.Origin(r)+CallbackPath, pa.Nonce)
	if err != nil {
		m.logger.Error("code exchange failed", "error", err)
		m.observer.ObserveAuth("callback", "exchange_error")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	profile, err := m.client.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		m.logger.Warn("loading user profile failed, using id token claims", "error", err)
		profile = tok.Claims
	}

	// A fresh id for every sign-in; any previous session is dropped.
	if old, err := m.Current(r); err == nil {
		if err := m.endSession(ctx, old.ID); err != nil {
			m.logger.Warn("dropping previous session", "error", err)
		}
	}

	now := time.Now()
	sess := &store.Session{
		ID:            randomToken(),
		Subject:       tok.Claims.Subject(),
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		IDToken:       tok.IDToken,
		AccessExpiry:  tok.Expiry,
		RefreshExpiry: tok.RefreshExpiry,
		Profile:       profile,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.opts.SessionTTL),
	}
	if err := m.sessions.SaveSession(ctx, sess); err != nil {
		m.logger.Error("saving session", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	m.setSessionCookie(w, r, sess.ID)
	m.observer.ObserveAuth(string(pa.Action), "ok")
	m.logger.Info("session started", "subject", sess.Subject, "action", pa.Action)
	http.Redirect(w, r, pa.ReturnPath, http.StatusSeeOther)
}

// Logout clears the local session first, then sends the browser to the
// provider's logout with the site origin as the post-logout destination.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	var idToken string
	if sess, err := m.Current(r); err == nil {
		idToken = sess.IDToken
		if err := m.endSession(r.Context(), sess.ID); err != nil {
			m.logger.Error("deleting session", "error", err)
		}
		m.logger.Info("session ended", "subject", sess.Subject)
	}
	m.clearSessionCookie(w, r)
	m.observer.ObserveAuth("logout", "ok")

	if !m.available() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	target, err := m.client.LogoutURL(idToken, m.Origin(r))
	if err != nil {
		m.logger.Error("building logout URL", "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// endSession deletes a session under its refresh lock so a renewal already
// in progress cannot save it back.
func (m *Manager) endSession(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.sessions.DeleteSession(ctx, id)
}

// ManageAccount redirects to the provider's account console.
func (m *Manager) ManageAccount(w http.ResponseWriter, r *http.Request) {
	if !m.available() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	target, err := m.client.AccountURL(m.Origin(r) + "/my-account")
	if err != nil {
		m.logger.Error("building account URL", "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Origin returns the configured base URL, or one derived from the request.
func (m *Manager) Origin(r *http.Request) string {
	if m.opts.BaseURL != "" {
		return m.opts.BaseURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// returnPath reads ?return= and accepts only local absolute paths.
func returnPath(r *http.Request) string {
	p := r.URL.Query().Get("return")
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return "/"
	}
	return p
}

// randomToken returns 256 bits of URL-safe randomness.
func randomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

var _ Boundary = (*Manager)(nil)
