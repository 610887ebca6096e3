// ABOUTME: Bearer token verification for the items API
// ABOUTME: Accepts RS256 tokens from the realm that were issued to the web client

package auth

import (
	"context"
	"errors"

	"github.com/2389/platform-engine/internal/identity"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Claims, error)
}

// RealmVerifier implements TokenVerifier with the realm's JWKS and an azp requirement.
type RealmVerifier struct {
	verifier        *identity.Verifier
	authorizedParty string
}

// NewRealmVerifier creates a verifier for issuer whose keys are served at jwksURI.
// Tokens must carry azp == authorizedParty.
func NewRealmVerifier(keys *identity.KeySet, issuer, authorizedParty string) *RealmVerifier {
	return &RealmVerifier{
		verifier:        identity.NewVerifier(keys, issuer),
		authorizedParty: authorizedParty,
	}
}

// Verify validates signature, issuer, expiry and azp, and requires a sub claim.
func (v *RealmVerifier) Verify(ctx context.Context, token string) (identity.Claims, error) {
	claims, err := v.verifier.VerifyAccessToken(ctx, token, v.authorizedParty)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject() == "" {
		return nil, errors.Join(ErrMissingClaim, errors.New("sub"))
	}
	return claims, nil
}
