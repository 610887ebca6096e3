// ABOUTME: Embedded YAML message catalogs for the supported site languages
// ABOUTME: Loads locales/*.yaml into an x/text catalog, filling gaps from English

package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// catalogFile is the on-disk shape of one locale.
type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Name     string            `yaml:"name"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle holds the parsed catalogs of every locale.
type Bundle struct {
	locales map[string]catalogFile
	order   []string
	cat     *catalog.Builder
}

var defaultBundle = mustLoad()

func mustLoad() *Bundle {
	b, err := LoadFromFS(localesFS)
	if err != nil {
		panic(fmt.Sprintf("loading embedded catalogs: %v", err))
	}
	return b
}

// LoadFromFS reads locales/*.yaml from fsys. The base locale must be present;
// keys missing from other locales fall back to its text.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	b := &Bundle{locales: make(map[string]catalogFile, len(paths))}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		want := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if file.Locale != want {
			return nil, fmt.Errorf("catalog %s: locale %q must match file name", p, file.Locale)
		}
		if _, err := language.Parse(file.Locale); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}
		if file.Messages == nil {
			return nil, fmt.Errorf("catalog %s: messages map is required", p)
		}
		b.locales[file.Locale] = file
		b.order = append(b.order, file.Locale)
	}

	base, ok := b.locales[BaseLocale]
	if !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	b.cat = catalog.NewBuilder(catalog.Fallback(language.Make(BaseLocale)))
	for _, locale := range b.order {
		tag := language.Make(locale)
		msgs := b.locales[locale].Messages
		for key, text := range base.Messages {
			if translated, ok := msgs[key]; ok && translated != "" {
				text = translated
			}
			if err := b.cat.SetString(tag, key, text); err != nil {
				return nil, fmt.Errorf("register %s/%s: %w", locale, key, err)
			}
		}
	}
	return b, nil
}

// Missing returns base-locale keys that locale does not translate, sorted.
func (b *Bundle) Missing(locale string) []string {
	msgs := b.locales[locale].Messages
	var missing []string
	for key := range b.locales[BaseLocale].Messages {
		if _, ok := msgs[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Locales returns the loaded locale ids, sorted.
func (b *Bundle) Locales() []string {
	return append([]string(nil), b.order...)
}

// Name returns the native display name of locale.
func (b *Bundle) Name(locale string) string {
	if f, ok := b.locales[locale]; ok && f.Name != "" {
		return f.Name
	}
	return locale
}

// Catalog exposes the x/text catalog for message printers.
func (b *Bundle) Catalog() catalog.Catalog {
	return b.cat
}
