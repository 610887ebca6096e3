// ABOUTME: Seals session tokens at rest with XChaCha20-Poly1305
// ABOUTME: The key is derived from the configured session secret with HKDF-SHA256

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealerInfo = "platform-engine session tokens v1"

// Sealer encrypts and decrypts token values for storage.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a sealing key from secret. The secret should carry at
// least 32 bytes of entropy.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty sealing secret")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealerInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts value and returns nonce || ciphertext in raw base64.
// The empty string seals to the empty string.
func (s *Sealer) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	payload := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("sealed value is too short")
	}

	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt sealed value: %w", err)
	}
	return string(plaintext), nil
}

// sealTokens returns the sealed token fields of sess.
func (s *Sealer) sealTokens(sess *Session) (access, refresh, id string, err error) {
	if access, err = s.Seal(sess.AccessToken); err != nil {
		return "", "", "", fmt.Errorf("sealing access token: %w", err)
	}
	if refresh, err = s.Seal(sess.RefreshToken); err != nil {
		return "", "", "", fmt.Errorf("sealing refresh token: %w", err)
	}
	if id, err = s.Seal(sess.IDToken); err != nil {
		return "", "", "", fmt.Errorf("sealing id token: %w", err)
	}
	return access, refresh, id, nil
}

// openTokens reverses sealTokens into sess.
func (s *Sealer) openTokens(sess *Session, access, refresh, id string) error {
	var err error
	if sess.AccessToken, err = s.Open(access); err != nil {
		return fmt.Errorf("opening access token: %w", err)
	}
	if sess.RefreshToken, err = s.Open(refresh); err != nil {
		return fmt.Errorf("opening refresh token: %w", err)
	}
	if sess.IDToken, err = s.Open(id); err != nil {
		return fmt.Errorf("opening id token: %w", err)
	}
	return nil
}
