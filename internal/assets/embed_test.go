// ABOUTME: Tests for fingerprinted static asset URLs and the embedded file server
// ABOUTME: Covers hash detection, URL generation and cache headers

package assets

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsHash(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"site.0123abcd.css", true},
		{"img/logo.deadbeef.svg", true},
		{"site.css", false},
		{"site.ABCDEFGH.css", false},
		{"production.css", false},
	}
	for _, tt := range tests {
		if got := containsHash(tt.path); got != tt.want {
			t.Errorf("containsHash(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestStripHash(t *testing.T) {
	assert.Equal(t, "site.css", stripHash("site.0123abcd.css"))
	assert.Equal(t, "site.css", stripHash("site.css"))
}

func TestMimeFromExt(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".js", "application/javascript"},
		{".css", "text/css; charset=utf-8"},
		{".svg", "image/svg+xml"},
		{".woff2", "font/woff2"},
		{".qqqqqq", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeFromExt(tt.ext); got != tt.want {
			t.Errorf("mimeFromExt(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestURL(t *testing.T) {
	u := URL("site.css")
	require.True(t, strings.HasPrefix(u, "/static/site."), u)
	assert.True(t, strings.HasSuffix(u, ".css"))
	assert.True(t, containsHash(strings.TrimPrefix(u, Prefix)))

	assert.Equal(t, URL("site.css"), URL("/site.css"))
	assert.Equal(t, "/static/missing.css", URL("missing.css"))
}

func serve(t *testing.T, p string) *httptest.ResponseRecorder {
	t.Helper()
	h := http.StripPrefix(strings.TrimSuffix(Prefix, "/"), FileServer())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
	return rec
}

func TestFileServer_Fingerprinted(t *testing.T) {
	rec := serve(t, URL("site.css"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "--brand")
}

func TestFileServer_PlainName(t *testing.T) {
	rec := serve(t, "/static/logo.svg")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestFileServer_StaleFingerprint(t *testing.T) {
	rec := serve(t, "/static/site.00000000.css")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestFileServer_NotFound(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, serve(t, "/static/nope.css").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, "/static/").Code)
}
