// Package store provides persistence for browser sessions, contact form
// submissions and the per-user item lists served by the items API.
//
// # Architecture
//
// The package is interface-driven:
//
//   - SessionStore: browser sessions with their tokens and profile claims
//   - ContactStore: contact form submissions
//   - ItemStore: read-mostly per-user items
//
// Three implementations exist:
//
//   - MemoryStore: all three interfaces, process memory only
//   - SQLiteStore: all three interfaces on modernc.org/sqlite (pure Go, no cgo)
//   - RedisSessionStore: SessionStore only, for several web replicas sharing sessions
//
// # Token Sealing
//
// The persistent backends never write access, refresh or id tokens in clear.
// A Sealer derives an XChaCha20-Poly1305 key from the configured session secret
// with HKDF-SHA256 and stores nonce || ciphertext as raw base64.
//
// # Expiry
//
// Every session carries a hard lifetime (ExpiresAt). Expired sessions are
// invisible to GetSession; DeleteExpiredSessions reclaims them. The token
// refresher finds candidates with ListSessionsExpiringBefore.
//
// # Errors
//
// Lookups of unknown entities return ErrNotFound; callers test with errors.Is.
package store
