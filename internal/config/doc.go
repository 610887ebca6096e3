// Package config handles configuration loading for the platform-engine binaries.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, then PLATFORM_* environment overrides are applied, defaults are
// filled and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PLATFORM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/platform-engine/web.yaml
//  3. ~/.config/platform-engine/web.yaml
//
// A file ending in .toml is decoded as TOML; anything else is YAML. When the
// file does not exist, LoadOrEnv builds the configuration from the environment.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session:
//	  secret: "${PLATFORM_SESSION_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// These variables take precedence over file values when set:
//
//	PLATFORM_KEYCLOAK_URL            identity.url
//	PLATFORM_KEYCLOAK_REALM          identity.realm
//	PLATFORM_KEYCLOAK_CLIENT         identity.client_id
//	PLATFORM_KEYCLOAK_CLIENT_SECRET  identity.client_secret
//	PLATFORM_API_URL                 api.base_url
//	PLATFORM_BASE_URL                server.base_url
//	PLATFORM_HTTP_ADDR               server.http_addr
//	PLATFORM_SESSION_SECRET          session.secret
//	PLATFORM_DB_PATH                 database.path
//	PLATFORM_OTEL_ENDPOINT           telemetry.otlp_endpoint
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	identity:
//	  min_validity: "70s"
//	  refresh_interval: "15s"
//	api:
//	  timeout: "10s"
//
// # Configuration Sections
//
// Identity provider:
//
//	identity:
//	  url: "https://sso.example.com"
//	  realm: "platform-engine-realm"
//	  client_id: "platform-engine-web"
//	  scopes: ["openid", "profile", "email"]
//	  silent_check: true
//
// Sessions:
//
//	session:
//	  backend: "sqlite"            # memory, sqlite, redis
//	  secret: "${PLATFORM_SESSION_SECRET}"
//	  ttl: "12h"
//
// Contact relay:
//
//	contact:
//	  rate_per_minute: 2
//	  burst: 3
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    room_id: "!leads:matrix.org"
//
// # Validation
//
// Validate requires the identity URL, realm and client id, a listen address or
// Tailscale hostname, and a session secret of at least 32 bytes for the sqlite
// and redis backends.
//
// # Usage
//
//	cfg, err := config.LoadOrEnv(config.DefaultPath("web.yaml"))
//	if err != nil {
//	    return err
//	}
package config
