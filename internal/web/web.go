// ABOUTME: Server-rendered marketing site with session-aware account and items pages
// ABOUTME: Wires routes, the protected-view gate and the per-request session lookup

package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/platform-engine/internal/assets"
	"github.com/2389/platform-engine/internal/i18n"
	"github.com/2389/platform-engine/internal/items"
	"github.com/2389/platform-engine/internal/notify"
	"github.com/2389/platform-engine/internal/session"
	"github.com/2389/platform-engine/internal/store"
)

// Sessions is the part of the session manager the site depends on.
type Sessions interface {
	session.Boundary
	Callback(w http.ResponseWriter, r *http.Request)
	ManageAccount(w http.ResponseWriter, r *http.Request)
	UpdateToken(ctx context.Context, sessionID string, minValidity time.Duration) (*store.Session, error)
	LoadSession(next http.Handler) http.Handler
	SilentCheck(next http.Handler) http.Handler
	Origin(r *http.Request) string
}

// Observer receives page-level outcomes, e.g. for metrics.
type Observer interface {
	ObserveItemFetch(outcome string)
	ObserveContact(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveItemFetch(string) {}
func (noopObserver) ObserveContact(string)   {}

// Config configures a Site.
type Config struct {
	Sessions Sessions
	Items    items.Lister
	Contacts store.ContactStore
	Notifier notify.Notifier
	Observer Observer

	// DevMode shows the raw id token on the account page.
	DevMode bool
	// MinValidity is the access token validity required before an item fetch.
	MinValidity time.Duration

	// ContactRate and ContactBurst limit contact submissions per client.
	ContactRate  rate.Limit
	ContactBurst int

	Logger *slog.Logger
}

// Site serves the HTML pages.
type Site struct {
	sessions    Sessions
	loader      *items.Loader
	contacts    store.ContactStore
	notifier    notify.Notifier
	observer    Observer
	devMode     bool
	minValidity time.Duration
	limiter     *clientLimiter
	pages       *pageSet
	content     *contentSet
	logger      *slog.Logger

	relays sync.WaitGroup
}

// New creates a Site. It fails when the embedded templates or content do not parse.
func New(cfg Config) (*Site, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("web: sessions required")
	}
	if cfg.Items == nil {
		return nil, fmt.Errorf("web: items lister required")
	}
	if cfg.Contacts == nil {
		return nil, fmt.Errorf("web: contact store required")
	}

	pages, err := loadPages()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	content, err := loadContent(contentFS)
	if err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "web")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	if cfg.ContactRate == 0 {
		cfg.ContactRate = rate.Every(30 * time.Second)
	}
	if cfg.ContactBurst == 0 {
		cfg.ContactBurst = 3
	}

	return &Site{
		sessions:    cfg.Sessions,
		loader:      items.NewLoader(cfg.Items),
		contacts:    cfg.Contacts,
		notifier:    notifier,
		observer:    observer,
		devMode:     cfg.DevMode,
		minValidity: cfg.MinValidity,
		limiter:     newClientLimiter(cfg.ContactRate, cfg.ContactBurst, 10*time.Minute),
		pages:       pages,
		content:     content,
		logger:      logger,
	}, nil
}

// Close stops the rate limiter janitor and waits for pending contact relays.
func (s *Site) Close() {
	s.limiter.Close()
	s.relays.Wait()
}

// RegisterRoutes adds the site routes to mux.
func (s *Site) RegisterRoutes(mux *http.ServeMux) {
	gate := session.Gate(s.sessions, http.HandlerFunc(s.handleLoading))

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /contact", s.handleContact)
	mux.HandleFunc("POST /contact", s.handleContactSubmit)

	mux.Handle("GET /my-account", gate(http.HandlerFunc(s.handleAccount)))
	mux.Handle("GET /my-items", gate(http.HandlerFunc(s.handleItems)))
	mux.Handle("POST /my-items/refresh", gate(http.HandlerFunc(s.handleItemsRefresh)))

	mux.HandleFunc("GET /login", s.sessions.Login)
	mux.HandleFunc("GET /register", s.sessions.Register)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET "+session.CallbackPath, s.sessions.Callback)
	mux.HandleFunc("GET /account/manage", s.sessions.ManageAccount)

	mux.HandleFunc("GET /lang/{tag}", s.handleLanguage)
	mux.Handle("GET "+assets.Prefix, http.StripPrefix(strings.TrimSuffix(assets.Prefix, "/"), assets.FileServer()))

	mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns the site with session loading and the silent check applied.
// Extra routes (health, metrics) can be registered on mux beforehand.
func (s *Site) Handler(mux *http.ServeMux) http.Handler {
	if mux == nil {
		mux = http.NewServeMux()
	}
	s.RegisterRoutes(mux)
	return s.sessions.LoadSession(s.sessions.SilentCheck(mux))
}

// UILocale returns the language hint passed to the identity provider.
func UILocale(r *http.Request) string {
	tag, _ := i18n.ResolveTag(r)
	return tag.String()
}
