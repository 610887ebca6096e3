// ABOUTME: Tests for the shared HTTP server lifecycle
// ABOUTME: Covers health and readiness probes, routing to the app handler, shutdown hooks and helpers

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeAddr returns a loopback address with an unused port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func appHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("home"))
	})
	return mux
}

func TestHandleHealth(t *testing.T) {
	s := New(Config{Handler: appHandler()}, testLogger())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("expected body OK, got %q", rec.Body.String())
	}
}

func TestHandleReady(t *testing.T) {
	var readyErr error = errors.New("identity client initializing")
	s := New(Config{Ready: func() error { return readyErr }}, testLogger())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready: identity client initializing", rec.Body.String())

	readyErr = nil
	rec = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestHandleReady_NoProbe(t *testing.T) {
	s := New(Config{}, testLogger())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	addr := freeAddr(t)
	s := New(Config{Name: "test", HTTPAddr: addr, Handler: appHandler()}, testLogger())

	var closed []string
	s.OnShutdown("store", func() error { closed = append(closed, "store"); return nil })
	s.OnShutdown("telemetry", func() error { closed = append(closed, "telemetry"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	assert.Equal(t, addr, s.Addr())

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "home", string(body))

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, []string{"store", "telemetry"}, closed)
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(Config{HTTPAddr: ln.Addr().String()}, testLogger())
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestShutdown_JoinsCloserErrors(t *testing.T) {
	s := New(Config{}, testLogger())
	s.OnShutdown("store", func() error { return errors.New("disk gone") })
	s.OnShutdown("ok", func() error { return nil })

	err := s.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, "store: disk gone", err.Error())
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "a", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "b", io.ErrUnexpectedEOF)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrUnexpectedEOF)
	assert.True(t, strings.HasPrefix(errs[0].Error(), "b: "))
}

func TestResolveTailscaleStateDir(t *testing.T) {
	got, err := resolveTailscaleStateDir("/var/lib/web", "platform-web")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/web", got)

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err = resolveTailscaleStateDir("", "platform-web")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "platform-engine", "platform-web", "tailscale"), got)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	got, err := resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", got)

	got, err = resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", got)
}

func TestTailnetURL(t *testing.T) {
	assert.Equal(t, "https://web.tail1234.ts.net", TailnetURL("web.tail1234.ts.net.", true))
	assert.Equal(t, "http://web.tail1234.ts.net", TailnetURL("web.tail1234.ts.net.", false))
	assert.Equal(t, "", TailnetURL("", true))
}
