// ABOUTME: Keycloak implementation of the identity Client using golang.org/x/oauth2
// ABOUTME: Authorization code + PKCE, refresh, userinfo, logout and account console URLs

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/2389/platform-engine/internal/identity"

// KeycloakConfig identifies the realm and client.
type KeycloakConfig struct {
	URL          string // server root, e.g. https://sso.example.com
	Realm        string
	ClientID     string
	ClientSecret string // empty for public clients
	Scopes       []string
	HTTPClient   *http.Client
}

// Issuer returns the realm issuer URL.
func (c KeycloakConfig) Issuer() string {
	return strings.TrimRight(c.URL, "/") + "/realms/" + url.PathEscape(c.Realm)
}

// Keycloak talks to one Keycloak realm.
type Keycloak struct {
	cfg    KeycloakConfig
	hc     *http.Client
	tracer trace.Tracer
	logger *slog.Logger

	mu       sync.RWMutex
	meta     *ProviderMetadata
	oauth    *oauth2.Config
	verifier *Verifier
}

// NewKeycloak creates a client. No network call is made until Init.
func NewKeycloak(cfg KeycloakConfig) *Keycloak {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email"}
	}
	return &Keycloak{
		cfg:    cfg,
		hc:     hc,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default().With("component", "identity"),
	}
}

// Init performs discovery and loads the signing keys.
func (k *Keycloak) Init(ctx context.Context) error {
	ctx, span := k.tracer.Start(ctx, "identity.Init",
		trace.WithAttributes(attribute.String("identity.realm", k.cfg.Realm)))
	defer span.End()

	meta, err := Discover(ctx, k.hc, k.cfg.Issuer())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return err
	}

	keys := NewKeySet(k.hc, meta.JWKSURI)
	if err := keys.Refresh(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "jwks fetch failed")
		return fmt.Errorf("loading signing keys: %w", err)
	}

	oc := &oauth2.Config{
		ClientID:     k.cfg.ClientID,
		ClientSecret: k.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
		},
		Scopes: k.cfg.Scopes,
	}
	if k.cfg.ClientSecret == "" {
		oc.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	k.mu.Lock()
	k.meta = meta
	k.oauth = oc
	k.verifier = NewVerifier(keys, meta.Issuer)
	k.mu.Unlock()

	k.logger.Info("identity provider initialized", "issuer", meta.Issuer)
	return nil
}

// state returns the initialized handles or ErrNotInitialized.
func (k *Keycloak) state() (*ProviderMetadata, *oauth2.Config, *Verifier, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.meta == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	return k.meta, k.oauth, k.verifier, nil
}

// Verifier returns the token verifier, or nil before Init.
func (k *Keycloak) Verifier() *Verifier {
	_, _, v, _ := k.state()
	return v
}

// AuthCodeURL builds the login, registration or silent-check URL.
func (k *Keycloak) AuthCodeURL(req AuthRequest) (string, error) {
	meta, oc, _, err := k.state()
	if err != nil {
		return "", err
	}

	cfg := *oc
	cfg.RedirectURL = req.RedirectURI
	if req.Action == ActionRegister {
		// Keycloak serves registration from a sibling of the auth endpoint.
		cfg.Endpoint.AuthURL = strings.TrimSuffix(meta.AuthorizationEndpoint, "/auth") + "/registrations"
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(req.Verifier),
		oauth2.SetAuthURLParam("nonce", req.Nonce),
	}
	if req.Action == ActionSilent {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "none"))
	}
	if req.Locale != "" {
		opts = append(opts, oauth2.SetAuthURLParam("ui_locales", req.Locale))
	}

	return cfg.AuthCodeURL(req.State, opts...), nil
}

func (k *Keycloak) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, k.hc)
}

// Exchange trades the code for tokens and verifies the id token.
func (k *Keycloak) Exchange(ctx context.Context, code, verifier, redirectURI, nonce string) (*Token, error) {
	ctx, span := k.tracer.Start(ctx, "identity.Exchange")
	defer span.End()

	_, oc, v, err := k.state()
	if err != nil {
		return nil, err
	}

	cfg := *oc
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(k.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	out, err := k.convert(ctx, v, tok, nonce)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "id token rejected")
		return nil, err
	}
	if out.IDToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrInvalidToken)
	}
	span.SetAttributes(attribute.String("identity.subject", out.Claims.Subject()))
	return out, nil
}

// Refresh exchanges a refresh token for a new token bundle.
func (k *Keycloak) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ctx, span := k.tracer.Start(ctx, "identity.Refresh")
	defer span.End()

	_, oc, v, err := k.state()
	if err != nil {
		return nil, err
	}

	// An empty access token forces the token source to hit the token endpoint.
	tok, err := oc.TokenSource(k.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	out, err := k.convert(ctx, v, tok, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refreshed id token rejected")
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// convert maps an oauth2 token, verifying the id token when one is present.
func (k *Keycloak) convert(ctx context.Context, v *Verifier, tok *oauth2.Token, nonce string) (*Token, error) {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	if secs := numericExtra(tok.Extra("refresh_expires_in")); secs > 0 {
		out.RefreshExpiry = time.Now().Add(time.Duration(secs) * time.Second)
	}

	if raw, _ := tok.Extra("id_token").(string); raw != "" {
		claims, err := v.VerifyIDToken(ctx, raw, k.cfg.ClientID, nonce)
		if err != nil {
			return nil, err
		}
		out.IDToken = raw
		out.Claims = claims
	}
	return out, nil
}

// numericExtra reads a JSON number that may arrive as float64, json.Number or string.
func numericExtra(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// UserInfo calls the userinfo endpoint with the access token.
func (k *Keycloak) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	ctx, span := k.tracer.Start(ctx, "identity.UserInfo")
	defer span.End()

	meta, _, _, err := k.state()
	if err != nil {
		return nil, err
	}
	if meta.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider has no userinfo endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := k.hc.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calling userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var claims Claims
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return claims, nil
}

// LogoutURL builds the end-session URL returning the browser to postLogoutRedirectURI.
func (k *Keycloak) LogoutURL(idTokenHint, postLogoutRedirectURI string) (string, error) {
	meta, _, _, err := k.state()
	if err != nil {
		return "", err
	}
	endpoint := meta.EndSessionEndpoint
	if endpoint == "" {
		endpoint = k.cfg.Issuer() + "/protocol/openid-connect/logout"
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", k.cfg.ClientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AccountURL returns the realm account console with a link back to the site.
func (k *Keycloak) AccountURL(referrerURI string) (string, error) {
	if _, _, _, err := k.state(); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("referrer", k.cfg.ClientID)
	q.Set("referrer_uri", referrerURI)
	return k.cfg.Issuer() + "/account?" + q.Encode(), nil
}

var _ Client = (*Keycloak)(nil)
