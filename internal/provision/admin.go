// ABOUTME: Keycloak admin REST client authenticated with the master realm password grant
// ABOUTME: Realm, client, user and realm-role calls used by the provisioner

package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotReady is returned when Keycloak did not accept the admin login in time.
var ErrNotReady = errors.New("keycloak did not become ready in time")

// Credentials identify the administrator used for provisioning.
type Credentials struct {
	URL      string
	Username string
	Password string
	// Realm is where the administrator lives; defaults to master.
	Realm string
	// ClientID is the public admin client; defaults to admin-cli.
	ClientID string
}

// APIError is a non-2xx admin API response.
type APIError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Admin calls the Keycloak admin REST API.
type Admin struct {
	baseURL string
	hc      *http.Client
}

// RealmRep is the subset of a realm representation the provisioner manages.
type RealmRep struct {
	ID                          string `json:"id,omitempty"`
	Realm                       string `json:"realm"`
	Enabled                     bool   `json:"enabled"`
	RegistrationAllowed         bool   `json:"registrationAllowed"`
	RegistrationEmailAsUsername bool   `json:"registrationEmailAsUsername"`
	LoginWithEmailAllowed       bool   `json:"loginWithEmailAllowed"`
	DuplicateEmailsAllowed      bool   `json:"duplicateEmailsAllowed"`
	VerifyEmail                 bool   `json:"verifyEmail"`
	SSLRequired                 string `json:"sslRequired,omitempty"`
	BruteForceProtected         bool   `json:"bruteForceProtected"`
	FailureFactor               int    `json:"failureFactor,omitempty"`
	MaxFailureWaitSeconds       int    `json:"maxFailureWaitSeconds,omitempty"`
}

// ClientRep is the subset of a client representation the provisioner manages.
type ClientRep struct {
	ID                        string            `json:"id,omitempty"`
	ClientID                  string            `json:"clientId"`
	Name                      string            `json:"name,omitempty"`
	Description               string            `json:"description,omitempty"`
	Enabled                   bool              `json:"enabled"`
	Protocol                  string            `json:"protocol,omitempty"`
	PublicClient              bool              `json:"publicClient"`
	StandardFlowEnabled       bool              `json:"standardFlowEnabled"`
	DirectAccessGrantsEnabled bool              `json:"directAccessGrantsEnabled"`
	ServiceAccountsEnabled    bool              `json:"serviceAccountsEnabled"`
	RedirectURIs              []string          `json:"redirectUris,omitempty"`
	WebOrigins                []string          `json:"webOrigins,omitempty"`
	Attributes                map[string]string `json:"attributes,omitempty"`
}

// CredentialRep is a user credential.
type CredentialRep struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// UserRep is the subset of a user representation the provisioner manages.
type UserRep struct {
	ID            string          `json:"id,omitempty"`
	Username      string          `json:"username"`
	Email         string          `json:"email,omitempty"`
	FirstName     string          `json:"firstName,omitempty"`
	LastName      string          `json:"lastName,omitempty"`
	Enabled       bool            `json:"enabled"`
	EmailVerified bool            `json:"emailVerified,omitempty"`
	Credentials   []CredentialRep `json:"credentials,omitempty"`
}

// RoleRep is a realm role.
type RoleRep struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// tokenURL returns the password grant endpoint of realm.
func tokenURL(base, realm string) string {
	return strings.TrimRight(base, "/") + "/realms/" + url.PathEscape(realm) + "/protocol/openid-connect/token"
}

// Connect logs in with the password grant and returns an authenticated client.
// The token is refreshed automatically for long runs.
func Connect(ctx context.Context, creds Credentials) (*Admin, error) {
	if creds.Realm == "" {
		creds.Realm = "master"
	}
	if creds.ClientID == "" {
		creds.ClientID = "admin-cli"
	}

	oc := &oauth2.Config{
		ClientID: creds.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL(creds.URL, creds.Realm),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	base := &http.Client{Timeout: 30 * time.Second}
	octx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)

	loginCtx, cancel := context.WithTimeout(context.WithValue(ctx, oauth2.HTTPClient, base), 30*time.Second)
	defer cancel()
	tok, err := oc.PasswordCredentialsToken(loginCtx, creds.Username, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("admin login as %q: %w", creds.Username, err)
	}

	hc := oc.Client(octx, tok)
	hc.Timeout = 30 * time.Second
	return &Admin{baseURL: strings.TrimRight(creds.URL, "/"), hc: hc}, nil
}

// WaitForKeycloak retries Connect until it succeeds, attempts run out or ctx ends.
func WaitForKeycloak(ctx context.Context, creds Credentials, attempts int, delay time.Duration, logger *slog.Logger) (*Admin, error) {
	if logger == nil {
		logger = slog.Default().With("component", "provision")
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		admin, err := Connect(ctx, creds)
		if err == nil {
			logger.Info("keycloak is ready", "user", creds.Username, "attempt", i)
			return admin, nil
		}
		lastErr = err
		logger.Warn("waiting for keycloak", "attempt", i, "attempts", attempts, "error", err)
		if i == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNotReady, lastErr)
}

// do sends a JSON request to the admin API and decodes the response into out.
func (a *Admin) do(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp, &APIError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decoding %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

func realmPath(realm string) string {
	return "/admin/realms/" + url.PathEscape(realm)
}

// Realms lists all realms visible to the administrator.
func (a *Admin) Realms(ctx context.Context) ([]RealmRep, error) {
	var realms []RealmRep
	_, err := a.do(ctx, http.MethodGet, "/admin/realms", nil, &realms)
	return realms, err
}

// CreateRealm creates a realm.
func (a *Admin) CreateRealm(ctx context.Context, rep RealmRep) error {
	_, err := a.do(ctx, http.MethodPost, "/admin/realms", rep, nil)
	return err
}

// UpdateRealm replaces the managed settings of a realm.
func (a *Admin) UpdateRealm(ctx context.Context, rep RealmRep) error {
	_, err := a.do(ctx, http.MethodPut, realmPath(rep.Realm), rep, nil)
	return err
}

// Clients returns the clients of realm with the given clientId.
func (a *Admin) Clients(ctx context.Context, realm, clientID string) ([]ClientRep, error) {
	var clients []ClientRep
	_, err := a.do(ctx, http.MethodGet, realmPath(realm)+"/clients?clientId="+url.QueryEscape(clientID), nil, &clients)
	return clients, err
}

// CreateClient creates a client in realm.
func (a *Admin) CreateClient(ctx context.Context, realm string, rep ClientRep) error {
	_, err := a.do(ctx, http.MethodPost, realmPath(realm)+"/clients", rep, nil)
	return err
}

// UpdateClient updates the client with internal id rep.ID.
func (a *Admin) UpdateClient(ctx context.Context, realm string, rep ClientRep) error {
	_, err := a.do(ctx, http.MethodPut, realmPath(realm)+"/clients/"+url.PathEscape(rep.ID), rep, nil)
	return err
}

// Users lists users of realm. A non-empty username filters to that exact user.
func (a *Admin) Users(ctx context.Context, realm, username string) ([]UserRep, error) {
	q := url.Values{}
	q.Set("max", "1000")
	if username != "" {
		q.Set("username", username)
		q.Set("exact", "true")
	}
	var users []UserRep
	_, err := a.do(ctx, http.MethodGet, realmPath(realm)+"/users?"+q.Encode(), nil, &users)
	return users, err
}

// CreateUser creates a user and returns its id from the Location header.
func (a *Admin) CreateUser(ctx context.Context, realm string, rep UserRep) (string, error) {
	resp, err := a.do(ctx, http.MethodPost, realmPath(realm)+"/users", rep, nil)
	if err != nil {
		return "", err
	}
	loc := resp.Header.Get("Location")
	if i := strings.LastIndex(loc, "/"); i >= 0 && i < len(loc)-1 {
		return loc[i+1:], nil
	}
	return "", fmt.Errorf("creating user %q: missing Location header", rep.Username)
}

// RealmRoles lists the realm-level roles.
func (a *Admin) RealmRoles(ctx context.Context, realm string) ([]RoleRep, error) {
	var roles []RoleRep
	_, err := a.do(ctx, http.MethodGet, realmPath(realm)+"/roles", nil, &roles)
	return roles, err
}

// CreateRealmRole creates a realm-level role.
func (a *Admin) CreateRealmRole(ctx context.Context, realm string, rep RoleRep) error {
	_, err := a.do(ctx, http.MethodPost, realmPath(realm)+"/roles", rep, nil)
	return err
}

// UserRealmRoles lists the realm roles mapped to a user.
func (a *Admin) UserRealmRoles(ctx context.Context, realm, userID string) ([]RoleRep, error) {
	var roles []RoleRep
	_, err := a.do(ctx, http.MethodGet, realmPath(realm)+"/users/"+url.PathEscape(userID)+"/role-mappings/realm", nil, &roles)
	return roles, err
}

// AssignRealmRoles maps realm roles to a user.
func (a *Admin) AssignRealmRoles(ctx context.Context, realm, userID string, roles []RoleRep) error {
	_, err := a.do(ctx, http.MethodPost, realmPath(realm)+"/users/"+url.PathEscape(userID)+"/role-mappings/realm", roles, nil)
	return err
}
