// Package identity is the OpenID Connect client for the Keycloak realm.
//
// # Overview
//
// Client is the handle the session layer uses. Keycloak implements it on
// golang.org/x/oauth2 with PKCE (S256), and internal/identity/mock provides an
// httptest realm for tests.
//
// # Initialization
//
// Init loads {url}/realms/{realm}/.well-known/openid-configuration, checks the
// issuer, and fetches the realm's signing keys. Every other method returns
// ErrNotInitialized until Init has succeeded once.
//
// # Tokens
//
// Exchange and Refresh return a Token bundle. The id token in each response is
// verified before it is returned:
//
//   - RS256 signature against the realm JWKS (refetched on an unknown kid)
//   - iss equal to the realm issuer
//   - aud containing the client id, azp equal to it when present
//   - exp present and in the future (10s leeway)
//   - nonce equal to the one sent with the authorization request (code exchange only)
//
// Verifier.VerifyAccessToken applies the same signature, issuer and expiry
// rules to bearer tokens and additionally requires a given azp. The items API
// uses it to accept only tokens issued to the web client.
//
// # Tracing
//
// Provider calls are wrapped in OpenTelemetry spans named identity.*.
package identity
