// ABOUTME: Markdown page content for the home and services pages
// ABOUTME: Rendered once at startup with goldmark; missing translations fall back to English

package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/2389/platform-engine/internal/i18n"
)

//go:embed content/*.md
var contentFS embed.FS

// contentSet maps "page.lang" to rendered HTML.
type contentSet struct {
	pages map[string]template.HTML
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
		),
	)
}

// loadContent renders every content/<page>.<lang>.md file in fsys.
func loadContent(fsys fs.FS) (*contentSet, error) {
	files, err := fs.Glob(fsys, "content/*.md")
	if err != nil {
		return nil, err
	}

	md := newMarkdown()
	cs := &contentSet{pages: make(map[string]template.HTML, len(files))}
	for _, file := range files {
		key := strings.TrimSuffix(path.Base(file), ".md")
		if strings.Count(key, ".") != 1 {
			return nil, fmt.Errorf("content file %s: want <page>.<lang>.md", file)
		}

		src, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := md.Convert(src, &buf); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", file, err)
		}
		// Authored in-tree; raw HTML is not enabled in the renderer.
		cs.pages[key] = template.HTML(buf.String())
	}
	return cs, nil
}

// Page returns the rendered page in lang, falling back to the base locale.
func (c *contentSet) Page(page, lang string) template.HTML {
	if html, ok := c.pages[page+"."+lang]; ok {
		return html
	}
	return c.pages[page+"."+i18n.BaseLocale]
}
