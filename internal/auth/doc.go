// Package auth provides bearer token authentication for the items API.
//
// # Token Verification
//
// Access tokens are RS256 JWTs issued by the Keycloak realm. RealmVerifier
// checks them against the realm JWKS:
//
//   - signature with a key from the realm certs endpoint (refetched on unknown kid)
//   - iss equal to the realm issuer URL
//   - exp present and in the future
//   - azp equal to the web client id
//   - sub present
//
// # HTTP Middleware
//
//	mw := HTTPAuthMiddleware(verifier, logger)
//	mux.Handle("GET /api/private", mw(handler))
//
// A missing, malformed or rejected token yields 401 with a JSON body
// {"error": "..."}. On success the request context carries an AuthContext:
//
//	ac := auth.FromContext(r.Context())
//	ac.Subject  // Keycloak user id
//
// # Per-User Resources
//
// RequireSubject restricts /api/users/{userId}/... routes to the token's own
// subject. Holders of the configured realm admin role may read any user.
package auth
