// ABOUTME: Page handlers for the public pages, the account and items views and language switching
// ABOUTME: Protected pages render an authentication card for anonymous visitors instead of redirecting

package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/platform-engine/internal/i18n"
	"github.com/2389/platform-engine/internal/identity"
	"github.com/2389/platform-engine/internal/items"
	"github.com/2389/platform-engine/internal/session"
)

// reloginDelay is how long the items page shows the expiry message before
// sending the browser to sign in again.
const reloginDelay = 2

func (s *Site) handleHome(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "site.name", "home")
	data.Content = s.content.Page("home", data.Lang)
	s.render(w, http.StatusOK, "home", data)
}

func (s *Site) handleServices(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "nav.services", "services")
	data.Content = s.content.Page("services", data.Lang)
	s.render(w, http.StatusOK, "services", data)
}

func (s *Site) handleNotFound(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "error.not_found.title", "")
	s.render(w, http.StatusNotFound, "not_found", data)
}

// handleLoading is shown by the gate until session initialization resolves.
func (s *Site) handleLoading(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "loading.default", "")
	data.RefreshAfter = 1
	data.RefreshURL = r.URL.RequestURI()
	if r.Method != http.MethodGet {
		data.RefreshURL = strings.TrimSuffix(r.URL.Path, "/refresh")
	}
	s.render(w, http.StatusOK, "loading", data)
}

// requireAuth fills in the authentication card when the visitor is anonymous
// and reports whether the page may show protected content.
func requireAuth(data *pageData, messageKey string) bool {
	if data.Status.Authenticated {
		return true
	}
	data.Auth = &authCard{
		MessageKey:  messageKey,
		Unavailable: !data.Status.ProviderAvailable,
	}
	return false
}

func (s *Site) handleAccount(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "account.title", "account")
	data.Subtitle = "account.subtitle"
	if !requireAuth(data, "auth.required.account") {
		s.render(w, http.StatusOK, "account", data)
		return
	}

	st := data.Status
	data.Account = &accountView{
		Username:  identity.ProfileField("preferred_username", st.User, st.IDClaims),
		Email:     identity.ProfileField("email", st.User, st.IDClaims),
		FirstName: identity.ProfileField("given_name", st.User, st.IDClaims),
		LastName:  identity.ProfileField("family_name", st.User, st.IDClaims),
	}
	if s.devMode && st.Session != nil {
		data.Account.IDToken = st.Session.IDToken
	}
	s.render(w, http.StatusOK, "account", data)
}

func (s *Site) handleItems(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(w, r, "items.title", "items")
	data.Subtitle = "items.subtitle"
	if !requireAuth(data, "auth.required.items") {
		s.render(w, http.StatusOK, "items", data)
		return
	}

	st := data.Status
	view := s.loader.Load(r.Context(), items.Request{
		UserID:      st.UserID(),
		AccessToken: st.Session.AccessToken,
		Renew: func(ctx context.Context) (string, error) {
			sess, err := s.sessions.UpdateToken(ctx, st.Session.ID, s.minValidity)
			if errors.Is(err, session.ErrSessionEnded) || errors.Is(err, session.ErrNoSession) {
				return "", fmt.Errorf("%w: %v", items.ErrUnauthorized, err)
			}
			if err != nil {
				return "", err
			}
			return sess.AccessToken, nil
		},
		Relogin: func() {
			data.RefreshAfter = reloginDelay
			data.RefreshURL = "/login?return=" + url.QueryEscape("/my-items")
		},
	})
	s.observer.ObserveItemFetch(fetchOutcome(view))
	data.Items = &view
	s.render(w, http.StatusOK, "items", data)
}

// handleItemsRefresh re-runs the fetch through a redirect so a reload of the
// result does not resubmit the form.
func (s *Site) handleItemsRefresh(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	http.Redirect(w, r, "/my-items", http.StatusSeeOther)
}

func fetchOutcome(v items.View) string {
	if v.Error == nil {
		return "ok"
	}
	switch v.Error.Key {
	case items.MsgAuthExpired:
		return "unauthorized"
	case items.MsgHTTPError:
		return "http_error"
	default:
		return "error"
	}
}

func (s *Site) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.sessions.Logout(w, r)
}

// handleLanguage stores the chosen language and returns to the page the
// visitor came from.
func (s *Site) handleLanguage(w http.ResponseWriter, r *http.Request) {
	tag, ok := i18n.ParseTag(r.PathValue("tag"))
	if !ok {
		s.handleNotFound(w, r)
		return
	}
	i18n.SetLanguageCookie(w, tag)
	http.Redirect(w, r, backPath(r), http.StatusSeeOther)
}

// backPath returns ?return= or the same-host Referer path, else "/". A lang
// query parameter is dropped so it cannot override the new choice.
func backPath(r *http.Request) string {
	if p := r.URL.Query().Get("return"); localPath(p) {
		return p
	}
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Host != r.Host || !localPath(ref.Path) {
		return "/"
	}
	q := ref.Query()
	q.Del(i18n.LangParam)
	if len(q) > 0 {
		return ref.Path + "?" + q.Encode()
	}
	return ref.Path
}

func localPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.ContainsAny(p, "\\\r\n")
}
