// ABOUTME: Tests for the session boundary against the fake realm
// ABOUTME: Covers one-shot initialization, login/register/logout, callback, silent check, renewal and gating

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/identity/mock"
	"github.com/2389/platform-engine/internal/store"
)

const testOrigin = "http://localhost:3000"

// fakeClient counts Init calls and can block, hang or fail them.
type fakeClient struct {
	identity.Client
	initCalls atomic.Int32
	initErr   error
	release   chan struct{}
	hang      bool // block until the context is done
}

func (f *fakeClient) Init(ctx context.Context) error {
	f.initCalls.Add(1)
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.release != nil {
		<-f.release
	}
	return f.initErr
}

// slowRefreshClient holds Refresh until unblock is closed.
type slowRefreshClient struct {
	fakeClient
	started chan struct{}
	unblock chan struct{}
}

func (c *slowRefreshClient) Refresh(ctx context.Context, refreshToken string) (*identity.Token, error) {
	close(c.started)
	<-c.unblock
	return &identity.Token{
		AccessToken:  "renewed-access",
		RefreshToken: "renewed-refresh",
		Expiry:       time.Now().Add(5 * time.Minute),
	}, nil
}

func (c *slowRefreshClient) LogoutURL(idTokenHint, postLogoutRedirectURI string) (string, error) {
	return "https://sso.example.com/logout", nil
}

type testEnv struct {
	provider *mock.Provider
	sessions *store.MemoryStore
	manager  *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	p := mock.New(t)
	kc := identity.NewKeycloak(identity.KeycloakConfig{URL: p.URL(), Realm: p.Realm, ClientID: p.ClientID})
	sessions := store.NewMemoryStore()
	m := NewManager(kc, sessions, Options{BaseURL: testOrigin, SilentCheck: true})
	t.Cleanup(m.Close)

	return &testEnv{provider: p, sessions: sessions, manager: m}
}

func (e *testEnv) init(t *testing.T) {
	t.Helper()
	e.manager.Initialize(context.Background())
	require.NoError(t, e.manager.InitErr())
}

// providerRedirect follows one hop at the fake realm and returns the Location it sends back.
func providerRedirect(t *testing.T, target string) string {
	t.Helper()
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := hc.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

// signIn runs the full code flow and returns the session cookie.
func (e *testEnv) signIn(t *testing.T, path string) *http.Cookie {
	t.Helper()
	e.provider.SignIn(mock.DefaultUser)

	rec := httptest.NewRecorder()
	e.manager.Login(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	callback := providerRedirect(t, rec.Header().Get("Location"))
	require.True(t, strings.HasPrefix(callback, testOrigin+CallbackPath))

	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == "platform_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/my-account", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestManager_LoadingUntilInitialized(t *testing.T) {
	e := newTestEnv(t)

	st := e.manager.Status(requestWith(nil))
	assert.True(t, st.Loading)
	assert.False(t, st.Authenticated)

	e.init(t)

	select {
	case <-e.manager.Ready():
	default:
		t.Fatal("Ready not closed after Initialize")
	}

	st = e.manager.Status(requestWith(nil))
	assert.False(t, st.Loading)
	assert.True(t, st.ProviderAvailable)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
}

func TestManager_InitializeRunsOnce(t *testing.T) {
	fc := &fakeClient{release: make(chan struct{})}
	m := NewManager(fc, store.NewMemoryStore(), Options{BaseURL: testOrigin})
	t.Cleanup(m.Close)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Initialize(context.Background())
		}()
	}

	// Still loading while Init is blocked
	time.Sleep(20 * time.Millisecond)
	assert.True(t, m.Loading())

	close(fc.release)
	wg.Wait()

	m.Initialize(context.Background())
	assert.Equal(t, int32(1), fc.initCalls.Load())
	assert.False(t, m.Loading())
}

func TestManager_InitFailureIsAnonymous(t *testing.T) {
	fc := &fakeClient{initErr: errors.New("connection refused")}
	sessions := store.NewMemoryStore()
	m := NewManager(fc, sessions, Options{BaseURL: testOrigin})
	t.Cleanup(m.Close)

	m.Initialize(context.Background())

	// Even a stored session is not honoured without a client
	require.NoError(t, sessions.SaveSession(context.Background(), &store.Session{
		ID: "s1", Subject: "u", ExpiresAt: time.Now().Add(time.Hour),
	}))
	st := m.Status(requestWith(&http.Cookie{Name: "platform_session", Value: "s1"}))

	assert.False(t, st.Loading)
	assert.False(t, st.Authenticated)
	assert.False(t, st.ProviderAvailable)
	assert.EqualError(t, st.ProviderErr, "connection refused")

	rec := httptest.NewRecorder()
	m.Login(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestManager_InitTimeoutEndsLoading(t *testing.T) {
	fc := &fakeClient{hang: true}
	m := NewManager(fc, store.NewMemoryStore(), Options{BaseURL: testOrigin, InitTimeout: 100 * time.Millisecond})
	t.Cleanup(m.Close)

	start := time.Now()
	m.Initialize(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, m.Loading())
	assert.ErrorIs(t, m.InitErr(), context.DeadlineExceeded)

	st := m.Status(requestWith(nil))
	assert.False(t, st.Loading)
	assert.False(t, st.Authenticated)
	assert.False(t, st.ProviderAvailable)
}

func TestManager_CheckReady(t *testing.T) {
	e := newTestEnv(t)
	assert.ErrorIs(t, e.manager.CheckReady(), ErrLoading)

	e.init(t)
	assert.NoError(t, e.manager.CheckReady())

	fc := &fakeClient{initErr: errors.New("connection refused")}
	m := NewManager(fc, store.NewMemoryStore(), Options{BaseURL: testOrigin})
	t.Cleanup(m.Close)
	m.Initialize(context.Background())
	assert.EqualError(t, m.CheckReady(), "identity provider unavailable: connection refused")
}

func TestManager_InitFailureAgainstProvider(t *testing.T) {
	e := newTestEnv(t)
	e.provider.FailDiscovery(true)

	e.manager.Initialize(context.Background())

	st := e.manager.Status(requestWith(nil))
	assert.False(t, st.Loading)
	assert.False(t, st.ProviderAvailable)
	assert.ErrorIs(t, st.ProviderErr, identity.ErrDiscovery)
}

func TestManager_LoginFlow(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	rec := httptest.NewRecorder()
	e.manager.Login(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/realms/"+e.provider.Realm+"/protocol/openid-connect/auth", loc.Path)
	assert.Equal(t, testOrigin+CallbackPath, loc.Query().Get("redirect_uri"))
	assert.Empty(t, loc.Query().Get("prompt"))

	cookie := e.signIn(t, "/login")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	st := e.manager.Status(requestWith(cookie))
	assert.True(t, st.Authenticated)
	assert.Equal(t, mock.DefaultUser.ID, st.UserID())
	assert.Equal(t, "jdoe@example.com", st.User.String("email"))
	assert.Equal(t, "jdoe", st.IDClaims.String("preferred_username"))
	assert.NotEmpty(t, st.Session.AccessToken)
}

func TestManager_LoginReturnPath(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	e.provider.SignIn(mock.DefaultUser)

	rec := httptest.NewRecorder()
	e.manager.Login(rec, httptest.NewRequest(http.MethodGet, "/login?return=/my-items", nil))
	callback := providerRedirect(t, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	assert.Equal(t, "/my-items", rec.Header().Get("Location"))
}

func TestManager_Register(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	rec := httptest.NewRecorder()
	e.manager.Register(rec, httptest.NewRequest(http.MethodGet, "/register", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc.Path, "/protocol/openid-connect/registrations"))
}

func TestManager_CallbackRejectsUnknownState(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	rec := httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=forged&code=abc", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, int64(0), e.provider.ExchangeCount())
}

func TestManager_CallbackStateIsSingleUse(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	e.provider.SignIn(mock.DefaultUser)

	rec := httptest.NewRecorder()
	e.manager.Login(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	callback := providerRedirect(t, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	require.NotEmpty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, int64(1), e.provider.ExchangeCount())
}

func TestManager_Logout(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")

	st := e.manager.Status(requestWith(cookie))
	require.True(t, st.Authenticated)
	idToken := st.Session.IDToken

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	e.manager.Logout(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc.Path, "/protocol/openid-connect/logout"))
	assert.Equal(t, testOrigin, loc.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, idToken, loc.Query().Get("id_token_hint"))

	// Local state is gone before the provider is involved
	_, err = e.sessions.GetSession(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, e.manager.Status(requestWith(cookie)).Authenticated)

	cleared := rec.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestManager_ManageAccount(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	rec := httptest.NewRecorder()
	e.manager.ManageAccount(rec, httptest.NewRequest(http.MethodGet, "/account/manage", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), e.provider.Issuer()+"/account?"))
}

func TestManager_SilentCheckWithoutProviderSession(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := e.manager.SilentCheck(next)

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "none", loc.Query().Get("prompt"))

	var marker *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "platform_session"+silentCookieSuffix {
			marker = c
		}
	}
	require.NotNil(t, marker)

	// The realm answers login_required; the browser lands back anonymous
	callback := providerRedirect(t, loc.String())
	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/services", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())

	// With the marker the page renders directly
	req = httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Accept", "text/html")
	req.AddCookie(marker)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestManager_SilentCheckStopsForCookielessBrowser(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	h := e.manager.SilentCheck(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	page := func(ua string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/services", nil)
		req.Header.Set("Accept", "text/html")
		req.Header.Set("User-Agent", ua)
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, page("no-cookies/1.0"))
	require.Equal(t, http.StatusFound, rec.Code)

	// The callback comes back without the check cookie the redirect set
	callback := providerRedirect(t, rec.Header().Get("Location"))
	cb := httptest.NewRequest(http.MethodGet, callback, nil)
	cb.Header.Set("User-Agent", "no-cookies/1.0")
	e.manager.Callback(httptest.NewRecorder(), cb)

	before := e.manager.pending.Len()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, page("no-cookies/1.0"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before, e.manager.pending.Len())

	// Another browser at the same address is still checked
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, page("other/2.0"))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestCookielessSet(t *testing.T) {
	c := newCookielessSet(2)
	now := time.Now()

	c.mark("a", now)
	assert.True(t, c.has("a", now))
	assert.False(t, c.has("a", now.Add(cookielessTTL)))

	c.mark("b", now)
	c.mark("c", now)
	c.mark("d", now)
	assert.True(t, c.has("b", now))
	assert.True(t, c.has("c", now))
	assert.False(t, c.has("d", now), "full set drops new keys")

	c.mark("e", now.Add(cookielessTTL))
	assert.True(t, c.has("e", now.Add(cookielessTTL)), "expired entries are pruned when full")
}

func TestManager_SilentCheckWithProviderSession(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	e.provider.SignIn(mock.DefaultUser)

	req := httptest.NewRequest(http.MethodGet, "/my-items", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	e.manager.SilentCheck(http.NotFoundHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	callback := providerRedirect(t, rec.Header().Get("Location"))
	rec = httptest.NewRecorder()
	e.manager.Callback(rec, httptest.NewRequest(http.MethodGet, callback, nil))
	assert.Equal(t, "/my-items", rec.Header().Get("Location"))

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "platform_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, e.manager.Status(requestWith(sessionCookie)).Authenticated)
}

func TestManager_SilentCheckSkipsNonPages(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	h := e.manager.SilentCheck(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		method, path, accept string
	}{
		{http.MethodGet, "/static/site.css", "text/css"},
		{http.MethodGet, "/health", "text/html"},
		{http.MethodPost, "/contact", "text/html"},
		{http.MethodGet, "/", "application/json"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Accept", tc.accept)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestManager_UpdateToken(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")
	ctx := context.Background()

	// Plenty of validity left: nothing happens
	sess, err := e.manager.UpdateToken(ctx, cookie.Value, 70*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.provider.RefreshCount())

	// Pull expiry inside the window
	sess.AccessExpiry = time.Now().Add(30 * time.Second)
	oldAccess := sess.AccessToken
	require.NoError(t, e.sessions.SaveSession(ctx, sess))

	renewed, err := e.manager.UpdateToken(ctx, cookie.Value, 70*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.provider.RefreshCount())
	assert.NotEqual(t, oldAccess, renewed.AccessToken)
	assert.True(t, renewed.AccessExpiry.After(time.Now().Add(70*time.Second)))

	stored, err := e.sessions.GetSession(ctx, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, renewed.AccessToken, stored.AccessToken)
}

func TestManager_UpdateTokenFailureEndsSession(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")
	ctx := context.Background()

	sess, err := e.sessions.GetSession(ctx, cookie.Value)
	require.NoError(t, err)
	sess.AccessExpiry = time.Now().Add(10 * time.Second)
	require.NoError(t, e.sessions.SaveSession(ctx, sess))

	e.provider.FailRefresh(true)

	_, err = e.manager.UpdateToken(ctx, cookie.Value, 70*time.Second)
	assert.ErrorIs(t, err, ErrSessionEnded)

	_, err = e.sessions.GetSession(ctx, cookie.Value)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, e.manager.Status(requestWith(cookie)).Authenticated)
}

func TestManager_UpdateTokenConcurrentSingleRefresh(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")
	ctx := context.Background()

	sess, err := e.sessions.GetSession(ctx, cookie.Value)
	require.NoError(t, err)
	sess.AccessExpiry = time.Now().Add(5 * time.Second)
	require.NoError(t, e.sessions.SaveSession(ctx, sess))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.manager.UpdateToken(ctx, cookie.Value, 70*time.Second)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), e.provider.RefreshCount())
}

func TestManager_LogoutWaitsForRenewal(t *testing.T) {
	fc := &slowRefreshClient{started: make(chan struct{}), unblock: make(chan struct{})}
	sessions := store.NewMemoryStore()
	m := NewManager(fc, sessions, Options{BaseURL: testOrigin})
	t.Cleanup(m.Close)
	m.Initialize(context.Background())
	require.NoError(t, m.InitErr())

	ctx := context.Background()
	require.NoError(t, sessions.SaveSession(ctx, &store.Session{
		ID:           "s1",
		Subject:      "u",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		AccessExpiry: time.Now().Add(10 * time.Second),
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	renewed := make(chan error, 1)
	go func() {
		_, err := m.UpdateToken(ctx, "s1", 70*time.Second)
		renewed <- err
	}()
	<-fc.started

	loggedOut := make(chan struct{})
	go func() {
		defer close(loggedOut)
		m.Logout(httptest.NewRecorder(), requestWith(&http.Cookie{Name: "platform_session", Value: "s1"}))
	}()

	select {
	case <-loggedOut:
		t.Fatal("logout finished while the renewal held the session")
	case <-time.After(50 * time.Millisecond):
	}

	close(fc.unblock)
	require.NoError(t, <-renewed)
	<-loggedOut

	_, err := sessions.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_RefreshDue(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")
	ctx := context.Background()

	sess, err := e.sessions.GetSession(ctx, cookie.Value)
	require.NoError(t, err)
	sess.AccessExpiry = time.Now().Add(20 * time.Second)
	require.NoError(t, e.sessions.SaveSession(ctx, sess))

	e.manager.refreshDue(ctx)
	assert.Equal(t, int64(1), e.provider.RefreshCount())

	// Nothing left to renew
	e.manager.refreshDue(ctx)
	assert.Equal(t, int64(1), e.provider.RefreshCount())
}

func TestManager_LoadSessionCaches(t *testing.T) {
	e := newTestEnv(t)
	e.init(t)
	cookie := e.signIn(t, "/login")

	var st Status
	h := e.manager.LoadSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st = e.manager.Status(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), requestWith(cookie))
	assert.True(t, st.Authenticated)

	h.ServeHTTP(httptest.NewRecorder(), requestWith(nil))
	assert.False(t, st.Authenticated)
}

func TestGate(t *testing.T) {
	fc := &fakeClient{release: make(chan struct{})}
	m := NewManager(fc, store.NewMemoryStore(), Options{BaseURL: testOrigin})
	t.Cleanup(m.Close)

	loading := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Checking authentication..."))
	})
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page"))
	})
	h := Gate(m, loading)(page)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/my-items", nil))
	assert.Equal(t, "Checking authentication...", rec.Body.String())

	go m.Initialize(context.Background())
	close(fc.release)
	<-m.Ready()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/my-items", nil))
	assert.Equal(t, "page", rec.Body.String())
}

func TestReturnPath(t *testing.T) {
	tests := map[string]string{
		"/login":                          "/",
		"/login?return=/my-items":         "/my-items",
		"/login?return=//evil.example":    "/",
		"/login?return=https://evil.test": "/",
		"/login?return=/%5Cevil":          "/",
	}
	for target, want := range tests {
		got := returnPath(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, got, target)
	}
}
