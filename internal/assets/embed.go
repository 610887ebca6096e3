// ABOUTME: Embedded stylesheet and images for the marketing site, served under /static/
// ABOUTME: Computes content fingerprints at startup so templates can emit cache-busting URLs

package assets

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"
)

//go:embed static
var staticFS embed.FS

// Prefix is the URL path the file server is mounted at.
const Prefix = "/static/"

// fingerprints maps a file name (e.g. "site.css") to its content hash.
// Built once at init; read-only afterwards.
var fingerprints = map[string]string{}

// hashPattern matches the fingerprint segment of "site.0123abcd.css".
var hashPattern = regexp.MustCompile(`\.[0-9a-f]{8}\.`)

func init() {
	_ = mime.AddExtensionType(".woff2", "font/woff2")
	_ = mime.AddExtensionType(".webmanifest", "application/manifest+json")

	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		fingerprints[strings.TrimPrefix(p, "static/")] = hex.EncodeToString(sum[:4])
		return nil
	})
	if err != nil {
		slog.Error("failed to fingerprint static assets", "error", err)
	}
}

// URL returns the fingerprinted URL for name, or the plain URL when name is
// not an embedded asset.
func URL(name string) string {
	name = strings.TrimPrefix(name, "/")
	hash, ok := fingerprints[name]
	if !ok {
		return Prefix + name
	}
	ext := path.Ext(name)
	return Prefix + strings.TrimSuffix(name, ext) + "." + hash + ext
}

// containsHash reports whether p carries a fingerprint segment.
func containsHash(p string) bool {
	return hashPattern.MatchString(p)
}

// stripHash turns "css/site.0123abcd.css" back into "css/site.css".
func stripHash(p string) string {
	loc := hashPattern.FindStringIndex(p)
	if loc == nil {
		return p
	}
	return p[:loc[0]] + "." + p[loc[1]:]
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the standard library's MIME database, then to
// "application/octet-stream".
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".woff2":
		return "font/woff2"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// FileServer serves the embedded assets. Requests for a current fingerprinted
// name get immutable cache headers; plain names get no-cache. A stale
// fingerprint is served without long-lived caching.
// The handler expects paths with Prefix already stripped.
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" || strings.HasSuffix(name, "/") {
			http.NotFound(w, r)
			return
		}

		cache := "no-cache"
		if containsHash(name) {
			plain := stripHash(name)
			if URL(plain) == Prefix+name {
				cache = "public, max-age=31536000, immutable"
			}
			name = plain
		}

		if ext := strings.ToLower(path.Ext(name)); ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		w.Header().Set("Cache-Control", cache)

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/" + name
		fileServer.ServeHTTP(w, r2)
	})
}
