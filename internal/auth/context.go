// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating verified token claims via context

package auth

import (
	"context"

	"github.com/2389/platform-engine/internal/identity"
)

// AuthContext holds the identity extracted from a verified bearer token.
type AuthContext struct {
	Subject  string          // sub claim, the Keycloak user id
	Username string          // preferred_username, may be empty
	Claims   identity.Claims // all verified claims
}

// RealmRoles returns the realm_access.roles claim.
func (a *AuthContext) RealmRoles() []string {
	access, ok := a.Claims["realm_access"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := access["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// HasRealmRole reports whether the token carries the given realm role.
func (a *AuthContext) HasRealmRole(role string) bool {
	for _, r := range a.RealmRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
