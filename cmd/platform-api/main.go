// ABOUTME: Entry point for platform-api, the per-user items API
// ABOUTME: Validates realm-issued bearer tokens and serves item lists from the store

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/2389/platform-engine/internal/api"
	"github.com/2389/platform-engine/internal/auth"
	"github.com/2389/platform-engine/internal/config"
	"github.com/2389/platform-engine/internal/console"
	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/metrics"
	"github.com/2389/platform-engine/internal/server"
	"github.com/2389/platform-engine/internal/store"
	"github.com/2389/platform-engine/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _       _    __                                          _
 _ __ | | __ _| |_ / _| ___  _ __ _ __ ___         __ _ _ __ (_)
| '_ \| |/ _' | __| |_ / _ \| '__| '_ ' _ \ _____ / _' | '_ \| |
| |_) | | (_| | |_|  _| (_) | |  | | | | | |_____| (_| | |_) | |
| .__/|_|\__,_|\__|_|  \___/|_|  |_| |_| |_|      \__,_| .__/|_|
|_|                                                    |_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: platform-api <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the items API")
		fmt.Println("  seed     Load the demonstration items into the database")
		fmt.Println("  health   Check API health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "seed":
		err = runSeed(ctx)
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

// itemStore is the store the API reads from, closable on shutdown.
type itemStore interface {
	store.ItemStore
	Close() error
}

// openItemStore opens the SQLite database, or an in-memory store seeded with
// the demonstration items when no database is configured.
func openItemStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (itemStore, error) {
	if cfg.Database.Path == "" {
		mem := store.NewMemoryStore()
		n, err := api.Seed(ctx, mem)
		if err != nil {
			return nil, err
		}
		logger.Info("no database configured, serving demonstration items from memory", "items", n)
		return mem, nil
	}

	sealer, err := sealerFor(cfg.Session.Secret)
	if err != nil {
		return nil, err
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path, sealer)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// sealerFor returns a sealer for secret. The API stores no tokens, so a
// random key is used when no secret is configured.
func sealerFor(secret string) (*store.Sealer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating sealer key: %w", err)
		}
	}
	sealer, err := store.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("creating token sealer: %w", err)
	}
	return sealer, nil
}

// jwksURI is where Keycloak serves the realm signing keys.
func jwksURI(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/protocol/openid-connect/certs"
}

func runServe(ctx context.Context) error {
	configPath := console.ConfigPath("api")

	console.Banner(os.Stdout, banner, version)

	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := console.SetupLogger(cfg.Logging, os.Stdout)

	issuer := cfg.Identity.Issuer()
	console.Item(os.Stdout, "Config", configPath)
	console.Item(os.Stdout, "HTTP", cfg.API.ListenAddr)
	console.Item(os.Stdout, "Issuer", issuer)
	console.Item(os.Stdout, "azp", cfg.API.AuthorizedParty)
	console.TailscaleItem(os.Stdout, cfg.Tailscale)
	fmt.Println()

	logger.Info("starting platform-api", "config", configPath, "listen_addr", cfg.API.ListenAddr)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName + "-api",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	items, err := openItemStore(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	keys := identity.NewKeySet(&http.Client{Timeout: cfg.API.Timeout}, jwksURI(issuer))
	if err := keys.Refresh(ctx); err != nil {
		// Keys load lazily on the first request, so a cold Keycloak is not fatal.
		logger.Warn("loading realm signing keys", "error", err)
	}

	apiSrv := api.New(api.Config{
		Items:          items,
		Verifier:       auth.NewRealmVerifier(keys, issuer, cfg.API.AuthorizedParty),
		AllowedOrigins: cfg.API.AllowedOrigins,
		AdminRole:      cfg.API.AdminRole,
		Logger:         logger,
	})

	handler := apiSrv.Handler()
	if cfg.Metrics.Enabled {
		m := metrics.New("api")
		mux := http.NewServeMux()
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		mux.Handle("/", handler)
		handler = m.InstrumentHandler(cfg.Metrics.Path, mux)
	}

	srv := server.New(server.Config{
		Name:      "platform-api",
		HTTPAddr:  cfg.API.ListenAddr,
		Tailscale: cfg.Tailscale,
		Handler:   handler,
	}, logger.With("component", "server"))

	srv.OnShutdown("store", items.Close)
	srv.OnShutdown("tracing", func() error {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(tctx)
	})

	return srv.Run(ctx)
}

func runSeed(ctx context.Context) error {
	configPath := console.ConfigPath("api")
	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not configured in %s (or set PLATFORM_DB_PATH)", configPath)
	}

	logger := console.SetupLogger(cfg.Logging, os.Stderr)
	items, err := openItemStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer items.Close()

	n, err := api.Seed(ctx, items)
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ Seeded %d items into %s\n", n, cfg.Database.Path)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.LoadOrEnv(console.ConfigPath("api"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.API.ListenAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
