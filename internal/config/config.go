// ABOUTME: Configuration loading and parsing for platform-engine binaries
// ABOUTME: Supports YAML or TOML files with env expansion, env overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Session backends
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// MinSessionSecretLength is the minimum session secret size for persistent backends.
const MinSessionSecretLength = 32

// Config represents the complete platform-engine configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Identity  IdentityConfig  `yaml:"identity" toml:"identity"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Contact   ContactConfig   `yaml:"contact" toml:"contact"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds the HTTP listener and public URL
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the external origin used for redirect and return URLs.
	// If not set, it's derived from http_addr or the tailscale hostname.
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// Mode is "production" or "development". Development shows the raw id token on /my-account.
	Mode string `yaml:"mode" toml:"mode"`
}

// TailscaleConfig holds Tailscale tsnet configuration for private preview deployments
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// IdentityConfig holds the identity provider (Keycloak) settings
type IdentityConfig struct {
	URL          string   `yaml:"url" toml:"url"`
	Realm        string   `yaml:"realm" toml:"realm"`
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
	// SilentCheck enables the prompt=none session check on a browser's first page view.
	SilentCheck *bool `yaml:"silent_check" toml:"silent_check"`

	MinValidity     time.Duration `yaml:"-" toml:"-"`
	RefreshInterval time.Duration `yaml:"-" toml:"-"`
	InitTimeout     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	MinValidityRaw     string `yaml:"min_validity" toml:"min_validity"`
	RefreshIntervalRaw string `yaml:"refresh_interval" toml:"refresh_interval"`
	InitTimeoutRaw     string `yaml:"init_timeout" toml:"init_timeout"`
}

// SilentCheckEnabled reports whether the non-interactive session check is on (default true).
func (c IdentityConfig) SilentCheckEnabled() bool {
	return c.SilentCheck == nil || *c.SilentCheck
}

// APIConfig holds settings for the items API, from both the caller and the server side
type APIConfig struct {
	// BaseURL is where the web server reaches the items API.
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// AllowedOrigins lists browser origins allowed by the API's CORS handling.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	// AuthorizedParty is the azp claim the API requires; defaults to identity.client_id.
	AuthorizedParty string `yaml:"authorized_party" toml:"authorized_party"`
	// ListenAddr is where platform-api serves.
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	// AdminRole is the realm role allowed to read any user's items.
	AdminRole string `yaml:"admin_role" toml:"admin_role"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// SessionConfig holds browser session storage settings
type SessionConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	Secret        string `yaml:"secret" toml:"secret"`
	CookieName    string `yaml:"cookie_name" toml:"cookie_name"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// ContactConfig holds contact form settings
type ContactConfig struct {
	// RatePerMinute is the sustained number of submissions allowed per client.
	RatePerMinute float64      `yaml:"rate_per_minute" toml:"rate_per_minute"`
	Burst         int          `yaml:"burst" toml:"burst"`
	Matrix        MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds the Matrix room that receives contact form submissions
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// envOverrides are environment variables that take precedence over the file.
type envOverrides struct {
	KeycloakURL          string `env:"PLATFORM_KEYCLOAK_URL"`
	KeycloakRealm        string `env:"PLATFORM_KEYCLOAK_REALM"`
	KeycloakClient       string `env:"PLATFORM_KEYCLOAK_CLIENT"`
	KeycloakClientSecret string `env:"PLATFORM_KEYCLOAK_CLIENT_SECRET"`
	APIURL               string `env:"PLATFORM_API_URL"`
	APIListenAddr        string `env:"PLATFORM_API_LISTEN_ADDR"`
	BaseURL              string `env:"PLATFORM_BASE_URL"`
	HTTPAddr             string `env:"PLATFORM_HTTP_ADDR"`
	SessionSecret        string `env:"PLATFORM_SESSION_SECRET"`
	DatabasePath         string `env:"PLATFORM_DB_PATH"`
	OTLPEndpoint         string `env:"PLATFORM_OTEL_ENDPOINT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then PLATFORM_* overrides apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// LoadOrEnv loads the file at path when it exists. A missing file is not an
// error: the configuration is then built from defaults and PLATFORM_* variables.
func LoadOrEnv(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return finish(&Config{})
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ExpandEnv applies the ${VAR_NAME} expansion used for config files to s.
func ExpandEnv(s string) string {
	return expandEnvVars(s)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides copies non-empty PLATFORM_* variables over file values.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Identity.URL, o.KeycloakURL)
	set(&cfg.Identity.Realm, o.KeycloakRealm)
	set(&cfg.Identity.ClientID, o.KeycloakClient)
	set(&cfg.Identity.ClientSecret, o.KeycloakClientSecret)
	set(&cfg.API.BaseURL, o.APIURL)
	set(&cfg.API.ListenAddr, o.APIListenAddr)
	set(&cfg.Server.BaseURL, o.BaseURL)
	set(&cfg.Server.HTTPAddr, o.HTTPAddr)
	set(&cfg.Session.Secret, o.SessionSecret)
	set(&cfg.Database.Path, o.DatabasePath)
	set(&cfg.Telemetry.OTLPEndpoint, o.OTLPEndpoint)
	return nil
}

// applyDefaults fills unset optional fields
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "localhost:3000"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "production"
	}
	if len(cfg.Identity.Scopes) == 0 {
		cfg.Identity.Scopes = []string{"openid", "profile", "email"}
	}
	if cfg.Identity.MinValidity == 0 {
		cfg.Identity.MinValidity = 70 * time.Second
	}
	if cfg.Identity.RefreshInterval == 0 {
		cfg.Identity.RefreshInterval = 15 * time.Second
	}
	if cfg.Identity.InitTimeout == 0 {
		cfg.Identity.InitTimeout = 10 * time.Second
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:4000"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 10 * time.Second
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "localhost:4000"
	}
	if cfg.API.AdminRole == "" {
		cfg.API.AdminRole = "admin"
	}
	if cfg.API.AuthorizedParty == "" {
		cfg.API.AuthorizedParty = cfg.Identity.ClientID
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = SessionBackendMemory
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "platform_session"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 12 * time.Hour
	}
	if cfg.Contact.RatePerMinute == 0 {
		cfg.Contact.RatePerMinute = 2
	}
	if cfg.Contact.Burst == 0 {
		cfg.Contact.Burst = 3
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "platform-engine"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.Mode != "production" && c.Server.Mode != "development" {
		return fmt.Errorf("server.mode must be production or development, got %q", c.Server.Mode)
	}

	if c.Server.BaseURL != "" {
		if err := validateHTTPURL("server.base_url", c.Server.BaseURL); err != nil {
			return err
		}
	}

	if c.Identity.URL == "" {
		return fmt.Errorf("identity.url is required (or set PLATFORM_KEYCLOAK_URL)")
	}
	if err := validateHTTPURL("identity.url", c.Identity.URL); err != nil {
		return err
	}
	if c.Identity.Realm == "" {
		return fmt.Errorf("identity.realm is required (or set PLATFORM_KEYCLOAK_REALM)")
	}
	if c.Identity.ClientID == "" {
		return fmt.Errorf("identity.client_id is required (or set PLATFORM_KEYCLOAK_CLIENT)")
	}

	if err := validateHTTPURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite session backend")
		}
	case SessionBackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis session backend")
		}
	default:
		return fmt.Errorf("session.backend must be memory, sqlite or redis, got %q", c.Session.Backend)
	}

	if c.Session.Backend != SessionBackendMemory && len(c.Session.Secret) < MinSessionSecretLength {
		return fmt.Errorf("session.secret must be at least %d bytes for the %s backend", MinSessionSecretLength, c.Session.Backend)
	}

	if c.Contact.Matrix.Enabled {
		if c.Contact.Matrix.Homeserver == "" || c.Contact.Matrix.RoomID == "" {
			return fmt.Errorf("contact.matrix.homeserver and contact.matrix.room_id are required when matrix is enabled")
		}
		if err := validateHTTPURL("contact.matrix.homeserver", c.Contact.Matrix.Homeserver); err != nil {
			return err
		}
	}

	return nil
}

// Issuer returns the realm issuer URL, e.g. https://sso.example.com/realms/platform.
func (c IdentityConfig) Issuer() string {
	return strings.TrimRight(c.URL, "/") + "/realms/" + url.PathEscape(c.Realm)
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"identity.min_validity", cfg.Identity.MinValidityRaw, &cfg.Identity.MinValidity},
		{"identity.refresh_interval", cfg.Identity.RefreshIntervalRaw, &cfg.Identity.RefreshInterval},
		{"identity.init_timeout", cfg.Identity.InitTimeoutRaw, &cfg.Identity.InitTimeout},
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// DefaultPath returns the config file location: $PLATFORM_CONFIG, then
// $XDG_CONFIG_HOME/platform-engine/<name>, then ~/.config/platform-engine/<name>.
func DefaultPath(name string) string {
	if p := os.Getenv("PLATFORM_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "platform-engine", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "platform-engine", name)
}
