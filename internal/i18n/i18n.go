// ABOUTME: Request language resolution and message printing for the web pages
// ABOUTME: Resolves query param, cookie, then Accept-Language, defaulting to English

package i18n

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// BaseLocale is the source locale every catalog falls back to.
	BaseLocale = "en"
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the visitor's language preference.
	LangCookieName = "platform_lang"
)

var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.Make("kn"),
}

var matcher = language.NewMatcher(supported)

// LanguageOption is one entry of the language switcher.
type LanguageOption struct {
	Tag    string
	Label  string
	Active bool
}

// Supported returns the supported language tags; the first is the default.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Default returns the default language tag.
func Default() language.Tag {
	return supported[0]
}

// ParseTag maps value onto a supported tag by its base language.
func ParseTag(value string) (language.Tag, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return language.Und, false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, false
	}
	base, _ := tag.Base()
	for _, s := range supported {
		if sb, _ := s.Base(); sb == base {
			return s, true
		}
	}
	return language.Und, false
}

// ResolveTag determines the language for the request.
// The bool reports whether the tag came from the query param and should be
// persisted as a cookie.
func ResolveTag(r *http.Request) (language.Tag, bool) {
	if r == nil {
		return Default(), false
	}

	if tag, ok := ParseTag(r.URL.Query().Get(LangParam)); ok {
		return tag, true
	}

	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := ParseTag(cookie.Value); ok {
			return tag, false
		}
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			if _, idx, conf := matcher.Match(tags...); conf != language.No {
				return supported[idx], false
			}
		}
	}

	return Default(), false
}

// SetLanguageCookie persists the selected language on the response.
func SetLanguageCookie(w http.ResponseWriter, tag language.Tag) {
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Printer returns a message printer for tag backed by the embedded catalogs.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(defaultBundle.Catalog()))
}

// Options returns the language switcher entries with active marked.
func Options(active language.Tag) []LanguageOption {
	opts := make([]LanguageOption, 0, len(supported))
	for _, tag := range supported {
		opts = append(opts, LanguageOption{
			Tag:    tag.String(),
			Label:  defaultBundle.Name(tag.String()),
			Active: tag == active,
		})
	}
	return opts
}

// Bundled returns the embedded catalog bundle.
func Bundled() *Bundle {
	return defaultBundle
}
