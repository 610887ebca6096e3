// Package i18n resolves the visitor's language and prints translated
// messages for the site pages.
//
// # Languages
//
// English (default), Spanish, French and Kannada. Catalogs are embedded
// YAML files under locales/, one per language, registered with
// golang.org/x/text/message. Keys missing from a translation fall back to
// the English text.
//
// # Resolution
//
// ResolveTag checks, in order: the ?lang= query parameter, the
// platform_lang cookie, the Accept-Language header. Anything unsupported
// falls through to English.
package i18n
