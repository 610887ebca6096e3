// ABOUTME: JSON Web Key Set retrieval and caching for RS256 signature checks
// ABOUTME: Refetches the set when a token names an unknown key id, at most once per interval

package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minRefetchInterval bounds how often an unknown kid triggers a JWKS fetch.
const minRefetchInterval = 30 * time.Second

// JSONWebKey is one entry of a JWKS document. Only RSA signing keys are used.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is a JWKS document.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// KeySet caches the provider's public keys by kid.
type KeySet struct {
	uri    string
	hc     *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet creates a key set for the JWKS at uri. Keys are loaded lazily or by Refresh.
func NewKeySet(hc *http.Client, uri string) *KeySet {
	return &KeySet{
		uri:    uri,
		hc:     hc,
		logger: slog.Default().With("component", "jwks"),
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Refresh fetches the key set now.
func (k *KeySet) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.uri, nil)
	if err != nil {
		return fmt.Errorf("building jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.hc.Do(req)
	if err != nil {
		return fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching jwks: %s", resp.Status)
	}

	var set JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("decoding jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.RSAPublicKey()
		if err != nil {
			k.logger.Warn("skipping malformed key", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks at %s has no usable RSA signing keys", k.uri)
	}

	k.mu.Lock()
	k.keys = keys
	k.fetchedAt = time.Now()
	k.mu.Unlock()

	k.logger.Debug("jwks loaded", "keys", len(keys))
	return nil
}

// Key returns the public key for kid, refetching once if it is unknown.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	stale := time.Since(k.fetchedAt) > minRefetchInterval
	k.mu.RUnlock()

	if ok {
		return key, nil
	}
	if !stale {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
	}

	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
}

// Keyfunc adapts the set for jwt.Parse. Only RSA signatures are accepted.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("kid header not found")
		}
		return k.Key(ctx, kid)
	}
}

// RSAPublicKey decodes the modulus and exponent of an RSA JWK.
func (j JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if len(nb) == 0 || !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("invalid RSA key parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}

// NewJSONWebKey encodes an RSA public key as a JWK.
func NewJSONWebKey(kid string, pub *rsa.PublicKey) JSONWebKey {
	return JSONWebKey{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
