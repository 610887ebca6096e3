// ABOUTME: Template loading and page rendering for the site
// ABOUTME: Every page shares the base layout; text comes from the request's message printer

package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/2389/platform-engine/internal/assets"
	"github.com/2389/platform-engine/internal/i18n"
	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/items"
	"github.com/2389/platform-engine/internal/session"
)

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS

// pageNames are the page templates layered on the base layout.
var pageNames = []string{"home", "services", "contact", "account", "items", "loading", "not_found"}

type pageSet struct {
	tmpl map[string]*template.Template
}

var funcs = template.FuncMap{
	"asset": assets.URL,
}

func loadPages() (*pageSet, error) {
	ps := &pageSet{tmpl: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS,
			"templates/base.html",
			"templates/partials/*.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		ps.tmpl[name] = t
	}
	return ps, nil
}

// authCard is the "Authentication Required" panel shown instead of a protected page.
type authCard struct {
	MessageKey  string
	Unavailable bool
}

// accountView holds the profile fields shown on the account page.
type accountView struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	// IDToken is only set in development mode.
	IDToken string
}

// contactForm holds submitted values so they survive a failed validation.
type contactForm struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// pageData is passed to every template.
type pageData struct {
	Title     string
	Subtitle  string
	Active    string
	Path      string
	Lang      string
	Languages []i18n.LanguageOption
	CSRFToken string
	Status    session.Status
	UserName  string
	Year      int
	DevMode   bool

	// RefreshURL, when set, makes the page navigate there after RefreshAfter seconds.
	RefreshURL   string
	RefreshAfter int

	Content template.HTML
	Auth    *authCard
	Account *accountView
	Items   *items.View
	Form    contactForm
	Notice  string
	Error   string

	printer *message.Printer
}

// T translates key with optional format arguments.
func (p *pageData) T(key string, args ...any) string {
	return p.printer.Sprintf(key, args...)
}

// Msg translates an items loader message.
func (p *pageData) Msg(m *items.Message) string {
	if m == nil {
		return ""
	}
	return p.printer.Sprintf(m.Key, m.Args...)
}

// newPage builds the common page state: language, CSRF token and session status.
func (s *Site) newPage(w http.ResponseWriter, r *http.Request, title, active string) *pageData {
	tag, persist := i18n.ResolveTag(r)
	if persist {
		i18n.SetLanguageCookie(w, tag)
	}

	st := s.sessions.Status(r)
	p := &pageData{
		Title:     title,
		Active:    active,
		Path:      r.URL.Path,
		Lang:      langCode(tag),
		Languages: i18n.Options(tag),
		CSRFToken: s.ensureCSRFToken(w, r),
		Status:    st,
		Year:      time.Now().Year(),
		DevMode:   s.devMode,
		printer:   i18n.Printer(tag),
	}
	if st.Authenticated {
		p.UserName = displayName(st)
	}
	return p
}

func langCode(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// displayName picks the friendliest available name for the nav bar.
func displayName(st session.Status) string {
	for _, claim := range []string{"name", "preferred_username", "email"} {
		if v := identity.ProfileField(claim, st.User, st.IDClaims); v != "N/A" {
			return v
		}
	}
	return ""
}

// render writes page with status code.
func (s *Site) render(w http.ResponseWriter, status int, page string, data *pageData) {
	tmpl, ok := s.pages.tmpl[page]
	if !ok {
		s.logger.Error("unknown page template", "page", page)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		s.logger.Error("failed to render page", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
