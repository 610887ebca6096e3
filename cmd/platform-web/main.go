// ABOUTME: Entry point for platform-web, the marketing site and account front-end
// ABOUTME: Wires config, stores, the Keycloak session boundary, pages and the HTTP server

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/platform-engine/internal/config"
	"github.com/2389/platform-engine/internal/console"
	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/items"
	"github.com/2389/platform-engine/internal/metrics"
	"github.com/2389/platform-engine/internal/notify"
	"github.com/2389/platform-engine/internal/server"
	"github.com/2389/platform-engine/internal/session"
	"github.com/2389/platform-engine/internal/telemetry"
	"github.com/2389/platform-engine/internal/web"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _       _    __                                    _
 _ __ | | __ _| |_ / _| ___  _ __ _ __ ___   __      _____| |__
| '_ \| |/ _' | __| |_ / _ \| '__| '_ ' _ \  \ \ /\ / / _ \ '_ \
| |_) | | (_| | |_|  _| (_) | |  | | | | | |  \ V  V /  __/ |_) |
| .__/|_|\__,_|\__|_|  \___/|_|  |_| |_| |_|   \_/\_/ \___|_.__/
|_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: platform-web <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the web server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check web server readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(bufio.NewReader(os.Stdin), os.Stdout)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := console.ConfigPath("web")

	console.Banner(os.Stdout, banner, version)

	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := console.SetupLogger(cfg.Logging, os.Stdout)

	console.Item(os.Stdout, "Config", configPath)
	console.Item(os.Stdout, "HTTP", cfg.Server.HTTPAddr)
	console.Item(os.Stdout, "Keycloak", cfg.Identity.Issuer())
	console.Item(os.Stdout, "Items API", cfg.API.BaseURL)
	console.Item(os.Stdout, "Sessions", cfg.Session.Backend)
	console.TailscaleItem(os.Stdout, cfg.Tailscale)
	fmt.Println()

	logger.Info("starting platform-web",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"mode", cfg.Server.Mode,
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName + "-web",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	var m *metrics.Metrics
	var authObserver session.Observer
	var siteObserver web.Observer
	if cfg.Metrics.Enabled {
		m = metrics.New("web")
		authObserver = m
		siteObserver = m
	}

	kc := identity.NewKeycloak(identity.KeycloakConfig{
		URL:          cfg.Identity.URL,
		Realm:        cfg.Identity.Realm,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scopes:       cfg.Identity.Scopes,
	})

	manager := session.NewManager(kc, stores.sessions, session.Options{
		BaseURL:     cfg.Server.BaseURL,
		CookieName:  cfg.Session.CookieName,
		SessionTTL:  cfg.Session.TTL,
		MinValidity: cfg.Identity.MinValidity,
		InitTimeout: cfg.Identity.InitTimeout,
		SilentCheck: cfg.Identity.SilentCheckEnabled(),
		Locale:      web.UILocale,
		Observer:    authObserver,
	})

	notifier, err := newNotifier(cfg.Contact.Matrix)
	if err != nil {
		manager.Close()
		_ = stores.Close()
		_ = shutdownTracing(context.Background())
		return err
	}

	site, err := web.New(web.Config{
		Sessions:     manager,
		Items:        items.NewClient(cfg.API.BaseURL, cfg.API.Timeout),
		Contacts:     stores.contacts,
		Notifier:     notifier,
		Observer:     siteObserver,
		DevMode:      cfg.Server.Mode == "development",
		MinValidity:  cfg.Identity.MinValidity,
		ContactRate:  rate.Limit(cfg.Contact.RatePerMinute / 60),
		ContactBurst: cfg.Contact.Burst,
	})
	if err != nil {
		manager.Close()
		_ = stores.Close()
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("creating site: %w", err)
	}

	srv := server.New(server.Config{
		Name:      "platform-web",
		HTTPAddr:  cfg.Server.HTTPAddr,
		Tailscale: cfg.Tailscale,
		Handler:   newHandler(site, m, cfg.Metrics.Path),
		Ready:     manager.CheckReady,
	}, logger.With("component", "server"))

	srv.OnShutdown("site", func() error { site.Close(); return nil })
	srv.OnShutdown("sessions", func() error { manager.Close(); return nil })
	srv.OnShutdown("stores", stores.Close)
	srv.OnShutdown("tracing", func() error {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(tctx)
	})

	// The one-time identity client setup runs beside the server so pages can
	// show the loading placeholder meanwhile.
	go manager.Initialize(ctx)
	go manager.RunRefresher(ctx, cfg.Identity.RefreshInterval)

	return srv.Run(ctx)
}

// newNotifier returns the Matrix relay when enabled, else a no-op.
func newNotifier(cfg config.MatrixConfig) (notify.Notifier, error) {
	if !cfg.Enabled {
		return notify.Noop{}, nil
	}
	mx, err := notify.NewMatrix(notify.MatrixConfig{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
		RoomID:      cfg.RoomID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating matrix notifier: %w", err)
	}
	return mx, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.LoadOrEnv(console.ConfigPath("web"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

// runInit writes a web config file from answers read on in.
// newHandler mounts the metrics endpoint, when enabled, next to the site routes.
func newHandler(site *web.Site, m *metrics.Metrics, metricsPath string) http.Handler {
	mux := http.NewServeMux()
	if m != nil {
		mux.Handle("GET "+metricsPath, m.Handler())
	}
	handler := site.Handler(mux)
	if m != nil {
		handler = m.InstrumentHandler(metricsPath, handler)
	}
	return handler
}

func runInit(in *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "platform-web configuration setup")
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out)

	outputFile := console.Prompt(in, out, "Config file path", console.ConfigPath("web"))
	if _, err := os.Stat(outputFile); err == nil {
		if !console.Yes(console.Prompt(in, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := console.Prompt(in, out, "HTTP address", "localhost:3000")
	baseURL := console.Prompt(in, out, "Public base URL (leave empty to derive per request)", "")
	mode := console.Prompt(in, out, "Mode (production/development)", "production")

	fmt.Fprintln(out, "\n--- Keycloak ---")
	kcURL := console.Prompt(in, out, "Keycloak URL", "http://localhost:8080")
	realm := console.Prompt(in, out, "Realm", "platform-engine-realm")
	clientID := console.Prompt(in, out, "Client ID", "platform-engine-web")

	fmt.Fprintln(out, "\n--- Items API ---")
	apiURL := console.Prompt(in, out, "Items API URL", "http://localhost:4000")

	fmt.Fprintln(out, "\n--- Sessions ---")
	backend := console.Prompt(in, out, "Session backend (memory/sqlite/redis)", config.SessionBackendMemory)
	dbPath := filepath.Join(console.DataPath(), "web.db")
	var redisAddr string
	switch backend {
	case config.SessionBackendSQLite:
		dbPath = console.Prompt(in, out, "SQLite database path", dbPath)
	case config.SessionBackendRedis:
		redisAddr = console.Prompt(in, out, "Redis address", "localhost:6379")
	}
	secret, err := randomSecret()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := console.Prompt(in, out, "Log level (debug/info/warn/error)", "info")
	logFormat := console.Prompt(in, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# platform-web configuration\n")
	cfg.WriteString("# Generated by platform-web init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	}
	cfg.WriteString(fmt.Sprintf("  mode: %q\n\n", mode))

	cfg.WriteString("identity:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", kcURL))
	cfg.WriteString(fmt.Sprintf("  realm: %q\n", realm))
	cfg.WriteString(fmt.Sprintf("  client_id: %q\n", clientID))
	cfg.WriteString("  min_validity: \"70s\"\n")
	cfg.WriteString("  refresh_interval: \"15s\"\n\n")

	cfg.WriteString("api:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", apiURL))
	cfg.WriteString("  timeout: \"10s\"\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	cfg.WriteString(fmt.Sprintf("  secret: %q\n", secret))
	if redisAddr != "" {
		cfg.WriteString(fmt.Sprintf("  redis_addr: %q\n", redisAddr))
	}
	cfg.WriteString("  ttl: \"12h\"\n\n")

	cfg.WriteString("contact:\n")
	cfg.WriteString("  rate_per_minute: 2\n")
	cfg.WriteString("  burst: 3\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the session secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  platform-web serve")
	return nil
}

// randomSecret returns a 32-byte base64 session secret.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
