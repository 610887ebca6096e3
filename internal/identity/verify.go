// ABOUTME: Verification of provider-issued id tokens and bearer access tokens
// ABOUTME: Checks RS256 signature via JWKS plus issuer, audience, azp, nonce and expiry

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is the leeway allowed on exp/iat/nbf checks.
const clockSkew = 10 * time.Second

// Verifier validates tokens issued by one realm.
type Verifier struct {
	keys   *KeySet
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier for tokens from issuer signed by keys.
func NewVerifier(keys *KeySet, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, now: time.Now}
}

func (v *Verifier) parse(ctx context.Context, raw string, opts ...jwt.ParserOption) (Claims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx), opts...)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return Claims(claims), nil
}

// VerifyIDToken validates an id token for clientID. When nonce is non-empty the
// token's nonce claim must match it.
func (v *Verifier) VerifyIDToken(ctx context.Context, raw, clientID, nonce string) (Claims, error) {
	claims, err := v.parse(ctx, raw, jwt.WithAudience(clientID))
	if err != nil {
		return nil, err
	}

	if azp := claims.String("azp"); azp != "" && azp != clientID {
		return nil, fmt.Errorf("%w: azp %q does not match client", ErrInvalidToken, azp)
	}
	if nonce != "" && claims.String("nonce") != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidToken)
	}
	if claims.Subject() == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyAccessToken validates a bearer access token. The azp claim must equal
// authorizedParty, i.e. the token was issued to the web client.
func (v *Verifier) VerifyAccessToken(ctx context.Context, raw, authorizedParty string) (Claims, error) {
	claims, err := v.parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	if authorizedParty != "" && claims.String("azp") != authorizedParty {
		return nil, fmt.Errorf("%w: azp %q not allowed", ErrInvalidToken, claims.String("azp"))
	}
	return claims, nil
}

// UnverifiedClaims decodes a token's claims without checking its signature.
// Use only on tokens verified earlier, e.g. the id token stored with a session.
func UnverifiedClaims(raw string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Claims(claims), nil
}
