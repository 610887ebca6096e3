// ABOUTME: Session and silent-check cookies
// ABOUTME: HttpOnly, SameSite=Lax so the provider's top-level redirect back carries them

package session

import (
	"net/http"
	"strings"
)

// silentCookieSuffix names the marker set once a browser had its silent check.
const silentCookieSuffix = "_sso_checked"

func (m *Manager) secure(r *http.Request) bool {
	return strings.HasPrefix(m.Origin(r), "https://")
}

func (m *Manager) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// markSilentChecked sets a browser-session cookie so the check runs once.
func (m *Manager) markSilentChecked(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName + silentCookieSuffix,
		Value:    "1",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) silentChecked(r *http.Request) bool {
	_, err := r.Cookie(m.opts.CookieName + silentCookieSuffix)
	return err == nil
}
