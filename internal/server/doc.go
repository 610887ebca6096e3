// Package server runs the HTTP side of each platform-engine binary.
//
// A Server listens on plain TCP or, when tailscale is enabled, joins the
// tailnet through tsnet and serves on :80, on :443 with tailnet certificates,
// or publicly through Funnel. Every server answers /health and /health/ready;
// the rest of the traffic goes to the configured handler.
//
// Run blocks until the context is canceled. Shutdown then stops the HTTP
// server, leaves the tailnet and runs the hooks registered with OnShutdown
// in registration order.
package server
