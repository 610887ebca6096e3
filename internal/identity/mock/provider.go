// ABOUTME: In-process fake Keycloak realm for tests, served by httptest
// ABOUTME: Implements discovery, JWKS, authorize, token, userinfo and logout endpoints with RS256 tokens

package mock

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/platform-engine/internal/identity"
)

// User is an account known to the fake realm.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// Claims returns the profile claims the realm reports for u.
func (u User) Claims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                u.ID,
		"preferred_username": u.Username,
		"email":              u.Email,
		"given_name":         u.FirstName,
		"family_name":        u.LastName,
	}
}

// DefaultUser mirrors the seeded demo account.
var DefaultUser = User{
	ID:        "676afc8d-af2f-4ed2-8c39-9f9a82d18556",
	Username:  "jdoe",
	Email:     "jdoe@example.com",
	FirstName: "Jane",
	LastName:  "Doe",
}

type authCode struct {
	user          User
	clientID      string
	redirectURI   string
	nonce         string
	codeChallenge string
}

// Provider is a fake realm. The zero value is not usable; call New.
type Provider struct {
	Server   *httptest.Server
	Realm    string
	ClientID string
	Key      *rsa.PrivateKey
	Kid      string

	// AccessTTL and RefreshTTL control issued token lifetimes.
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	mu            sync.Mutex
	browserUser   *User // provider-side SSO session used by the authorize endpoint
	codes         map[string]authCode
	refreshTokens map[string]User
	failRefresh   bool
	failDiscovery bool

	refreshCount  atomic.Int64
	exchangeCount atomic.Int64
}

// New starts a fake realm and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	p := &Provider{
		Realm:         "platform-engine-realm",
		ClientID:      "platform-engine-web",
		Key:           key,
		Kid:           "test-key",
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    30 * time.Minute,
		codes:         make(map[string]authCode),
		refreshTokens: make(map[string]User),
	}

	mux := http.NewServeMux()
	base := "/realms/" + p.Realm
	mux.HandleFunc("GET "+base+"/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/certs", p.handleCerts)
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/auth", p.handleAuthorize)
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/registrations", p.handleAuthorize)
	mux.HandleFunc("POST "+base+"/protocol/openid-connect/token", p.handleToken)
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/userinfo", p.handleUserInfo)
	mux.HandleFunc("GET "+base+"/protocol/openid-connect/logout", p.handleLogout)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the server root, the value configured as the identity URL.
func (p *Provider) URL() string { return p.Server.URL }

// Issuer is the realm issuer URL.
func (p *Provider) Issuer() string { return p.Server.URL + "/realms/" + p.Realm }

// SignIn gives the fake browser an SSO session, so authorize requests succeed
// without interaction.
func (p *Provider) SignIn(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.browserUser = &u
}

// SignOut ends the provider-side SSO session.
func (p *Provider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.browserUser = nil
}

// FailRefresh makes every refresh_token grant fail with invalid_grant.
func (p *Provider) FailRefresh(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRefresh = fail
}

// FailDiscovery makes the discovery endpoint return 503.
func (p *Provider) FailDiscovery(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDiscovery = fail
}

// RefreshCount is the number of successful refresh grants served.
func (p *Provider) RefreshCount() int64 { return p.refreshCount.Load() }

// ExchangeCount is the number of successful code exchanges served.
func (p *Provider) ExchangeCount() int64 { return p.exchangeCount.Load() }

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	fail := p.failDiscovery
	p.mu.Unlock()
	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	oidc := p.Issuer() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 p.Issuer(),
		"authorization_endpoint": oidc + "/auth",
		"token_endpoint":         oidc + "/token",
		"userinfo_endpoint":      oidc + "/userinfo",
		"end_session_endpoint":   oidc + "/logout",
		"jwks_uri":               oidc + "/certs",
	})
}

func (p *Provider) handleCerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identity.JSONWebKeySet{
		Keys: []identity.JSONWebKey{identity.NewJSONWebKey(p.Kid, &p.Key.PublicKey)},
	})
}

// handleAuthorize redirects straight back to redirect_uri. With an SSO session a
// code is issued; without one, prompt=none yields login_required and any other
// request renders a stand-in login page.
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || q.Get("client_id") != p.ClientID {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	back, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := back.Query()
	params.Set("state", q.Get("state"))

	p.mu.Lock()
	user := p.browserUser
	p.mu.Unlock()

	if user == nil {
		if q.Get("prompt") == "none" {
			params.Set("error", "login_required")
			back.RawQuery = params.Encode()
			http.Redirect(w, r, back.String(), http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Sign in to platform-engine-realm</body></html>")
		return
	}

	code := randomString()
	p.mu.Lock()
	p.codes[code] = authCode{
		user:          *user,
		clientID:      q.Get("client_id"),
		redirectURI:   redirectURI,
		nonce:         q.Get("nonce"),
		codeChallenge: q.Get("code_challenge"),
	}
	p.mu.Unlock()

	params.Set("code", code)
	back.RawQuery = params.Encode()
	http.Redirect(w, r, back.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "malformed form")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCode(w, r)
	case "refresh_token":
		p.refresh(w, r)
	default:
		tokenError(w, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	p.mu.Lock()
	ac, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok {
		tokenError(w, "invalid_grant", "code not valid")
		return
	}
	if r.PostForm.Get("redirect_uri") != ac.redirectURI {
		tokenError(w, "invalid_grant", "incorrect redirect_uri")
		return
	}
	if ac.codeChallenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != ac.codeChallenge {
			tokenError(w, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	p.exchangeCount.Add(1)
	p.writeTokens(w, ac.user, ac.nonce)
}

func (p *Provider) refresh(w http.ResponseWriter, r *http.Request) {
	rt := r.PostForm.Get("refresh_token")

	p.mu.Lock()
	user, ok := p.refreshTokens[rt]
	fail := p.failRefresh
	if ok {
		delete(p.refreshTokens, rt) // rotation: each refresh token is single use
	}
	p.mu.Unlock()

	if fail || !ok {
		tokenError(w, "invalid_grant", "Token is not active")
		return
	}

	p.refreshCount.Add(1)
	p.writeTokens(w, user, "")
}

func (p *Provider) writeTokens(w http.ResponseWriter, u User, nonce string) {
	rt := randomString()
	p.mu.Lock()
	p.refreshTokens[rt] = u
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       p.AccessToken(u, p.AccessTTL),
		"id_token":           p.IDToken(u, nonce, p.AccessTTL),
		"refresh_token":      rt,
		"token_type":         "Bearer",
		"expires_in":         int(p.AccessTTL.Seconds()),
		"refresh_expires_in": int(p.RefreshTTL.Seconds()),
		"scope":              "openid profile email",
	})
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return &p.Key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                claims["sub"],
		"preferred_username": claims["preferred_username"],
		"email":              claims["email"],
		"given_name":         claims["given_name"],
		"family_name":        claims["family_name"],
	})
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	p.SignOut()
	if target := r.URL.Query().Get("post_logout_redirect_uri"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AccessToken signs an access token for u issued to the web client.
func (p *Provider) AccessToken(u User, ttl time.Duration) string {
	claims := u.Claims()
	claims["azp"] = p.ClientID
	claims["typ"] = "Bearer"
	claims["aud"] = "account"
	return p.Sign(claims, ttl)
}

// IDToken signs an id token for u.
func (p *Provider) IDToken(u User, nonce string, ttl time.Duration) string {
	claims := u.Claims()
	claims["aud"] = p.ClientID
	claims["azp"] = p.ClientID
	claims["typ"] = "ID"
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return p.Sign(claims, ttl)
}

// Sign adds iss/iat/exp to claims (unless already set) and signs them with the realm key.
func (p *Provider) Sign(claims jwt.MapClaims, ttl time.Duration) string {
	now := time.Now()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = p.Issuer()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = now.Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.Kid
	signed, err := token.SignedString(p.Key)
	if err != nil {
		panic(fmt.Sprintf("signing token: %v", err))
	}
	return signed
}

func tokenError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
