// Package session is the boundary between browsers and the identity provider.
//
// # Overview
//
// Manager owns the identity client handle for the whole process and keeps one
// session record per signed-in browser, referenced by an HttpOnly cookie. Page
// handlers read state through Status and never mutate it; only Initialize,
// Callback, Logout and token renewal do.
//
// # Lifecycle
//
//	uninitialized -> initializing -> { authenticated, anonymous }
//
// Initialize runs once (sync.Once) in its own goroutine at startup. Until it
// returns, Status reports Loading and gated pages render a placeholder. If it
// fails, the error is logged and every browser is anonymous; Status carries
// ProviderAvailable=false so pages can say sign-in is unavailable.
//
// # Redirect Flows
//
//   - Login / Register: authorization code + PKCE with state and nonce; the
//     pending request is held for PendingTTL and consumed once by Callback.
//   - Silent check: the first page view of a browser without a session is
//     redirected with prompt=none; login_required brings it back anonymous.
//   - Logout: the session record and cookie are removed before the browser is
//     sent to the provider's end-session endpoint.
//
// # Token Renewal
//
// UpdateToken renews a session whose access token has less than the minimum
// validity (70s by default) left. RunRefresher does the same on a ticker for
// all sessions. Renewals of one session are serialized by a keyed mutex. A
// failed renewal deletes the session; there is no retry.
package session
