// ABOUTME: Identity client abstraction over the OpenID Connect provider
// ABOUTME: Defines the Client interface, token bundle, claims and sentinel errors

package identity

import (
	"context"
	"errors"
	"time"
)

// Identity errors
var (
	// ErrNotInitialized is returned by Client methods before Init succeeded.
	ErrNotInitialized = errors.New("identity client not initialized")
	// ErrInvalidToken is returned when a token fails signature or claim validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRefreshFailed is returned when the provider rejects a refresh token.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrDiscovery is returned when provider metadata cannot be loaded.
	ErrDiscovery = errors.New("provider discovery failed")
)

// Action selects which provider page an authorization request opens.
type Action string

// Authorization actions
const (
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	// ActionSilent is the non-interactive session check (prompt=none).
	ActionSilent Action = "silent"
)

// AuthRequest carries the per-attempt values of an authorization redirect.
type AuthRequest struct {
	Action      Action
	State       string
	Nonce       string
	Verifier    string // PKCE code verifier; only its S256 challenge is sent
	RedirectURI string
	Locale      string // optional ui_locales hint
}

// Client is the identity-provider handle the session layer talks to.
// Implementations must be safe for concurrent use once Init has returned.
type Client interface {
	// Init performs discovery and key retrieval. It may be retried after failure.
	Init(ctx context.Context) error

	// AuthCodeURL builds the provider URL for an authorization request.
	AuthCodeURL(req AuthRequest) (string, error)

	// Exchange trades an authorization code for tokens and verifies the id token
	// against the expected nonce.
	Exchange(ctx context.Context, code, verifier, redirectURI, nonce string) (*Token, error)

	// Refresh obtains new tokens with a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// UserInfo loads the user's profile claims.
	UserInfo(ctx context.Context, accessToken string) (Claims, error)

	// LogoutURL builds the provider's end-session URL.
	LogoutURL(idTokenHint, postLogoutRedirectURI string) (string, error)

	// AccountURL returns the provider's self-service account console URL.
	AccountURL(referrerURI string) (string, error)
}

// Token is the bundle returned by a code exchange or a refresh.
type Token struct {
	AccessToken   string
	RefreshToken  string
	IDToken       string
	Expiry        time.Time
	RefreshExpiry time.Time // zero when unknown
	// Claims are the verified id token claims (nil when the response had no id token).
	Claims Claims
}

// ExpiresWithin reports whether the access token has less than d validity left at now.
func (t *Token) ExpiresWithin(d time.Duration, now time.Time) bool {
	return ExpiresWithin(t.Expiry, d, now)
}

// ExpiresWithin reports whether expiry falls before now+d. A zero expiry never expires.
func ExpiresWithin(expiry time.Time, d time.Duration, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return expiry.Before(now.Add(d))
}

// Claims is a set of decoded JWT or userinfo claims.
type Claims map[string]any

// String returns the claim as a string, or "" when missing or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	return c.String("sub")
}

// Profile field fallbacks: profile claims first, then id token claims, then "N/A".
const notAvailable = "N/A"

// ProfileField returns the first non-empty value of name among the given claim
// sets, or "N/A".
func ProfileField(name string, sets ...Claims) string {
	for _, c := range sets {
		if v := c.String(name); v != "" {
			return v
		}
	}
	return notAvailable
}
