// ABOUTME: HTTP middleware for protected views and the first-visit silent session check
// ABOUTME: Gate shows a loading placeholder until initialization resolves; it is UX, not access control

package session

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/platform-engine/internal/identity"
)

// Gate renders loading while the boundary is still initializing and the
// wrapped handler afterwards. Authentication is not enforced here; handlers
// decide what an anonymous visitor sees.
func Gate(b Boundary, loading http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b.Status(r).Loading {
				loading.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SilentCheck issues one prompt=none authorization for a browser that has no
// session, so an existing provider session signs it in without interaction.
// Only top-level page GETs are redirected.
func (m *Manager) SilentCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.opts.SilentCheck || r.Method != http.MethodGet || !m.available() ||
			!wantsHTML(r) || m.silentChecked(r) || skipSilent(r.URL.Path) ||
			m.cookieless.has(browserKey(r), time.Now()) {
			next.ServeHTTP(w, r)
			return
		}

		if _, err := m.Current(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}

		m.markSilentChecked(w, r)
		m.startAuth(w, r, identity.ActionSilent, r.URL.RequestURI())
	})
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// skipSilent excludes auth endpoints, assets and probes.
func skipSilent(path string) bool {
	for _, prefix := range []string{"/auth/", "/login", "/register", "/logout", "/static/", "/health", "/metrics", "/lang/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// cookielessTTL is how long a browser that dropped the check cookie is exempt
// from the silent check.
const cookielessTTL = 30 * time.Minute

// cookielessSet remembers browsers whose silent-check callback arrived without
// the check cookie. Without it they would bounce through prompt=none on every page.
type cookielessSet struct {
	mu    sync.Mutex
	until map[string]time.Time
	max   int
}

func newCookielessSet(max int) *cookielessSet {
	return &cookielessSet{until: make(map[string]time.Time), max: max}
}

// mark exempts key until now+cookielessTTL. When full, expired entries are
// pruned; if none are, the key is not recorded.
func (c *cookielessSet) mark(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.until[key]; !ok && len(c.until) >= c.max {
		for k, t := range c.until {
			if !now.Before(t) {
				delete(c.until, k)
			}
		}
		if len(c.until) >= c.max {
			return
		}
	}
	c.until[key] = now.Add(cookielessTTL)
}

func (c *cookielessSet) has(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.until[key]
	if ok && !now.Before(t) {
		delete(c.until, key)
		return false
	}
	return ok
}

// browserKey identifies a browser without cookies: client address plus user agent.
func browserKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host + "|" + r.UserAgent()
}
