// ABOUTME: Tests for the terminal helpers
// ABOUTME: Covers config path resolution, log levels, the color handler and prompts

package console

import (
	"bufio"
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/platform-engine/internal/config"
)

func TestConfigPath(t *testing.T) {
	t.Setenv("PLATFORM_CONFIG", "/etc/platform/web.yaml")
	assert.Equal(t, "/etc/platform/web.yaml", ConfigPath("web"))

	t.Setenv("PLATFORM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "platform-engine", "api.yaml"), ConfigPath("api"))
}

func TestDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	assert.Equal(t, filepath.Join("/tmp/data", "platform-engine"), DataPath())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelInfo)).With("component", "web")

	logger.Debug("hidden")
	logger.Info("page rendered", "path", "/services")
	logger.WithGroup("req").Warn("slow", "ms", 1200)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	assert.Contains(t, lines[0], "INF page rendered component=web path=/services")
	assert.Contains(t, lines[1], "WRN slow component=web req.ms=1200")
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader("custom\n\n"))

	assert.Equal(t, "custom", Prompt(r, &out, "Realm", "platform-engine-realm"))
	assert.Equal(t, "platform-engine-realm", Prompt(r, &out, "Realm", "platform-engine-realm"))
	// EOF falls back to the default
	assert.Equal(t, "fallback", Prompt(r, &out, "Other", "fallback"))
	assert.Contains(t, out.String(), "Realm [platform-engine-realm]: ")
}

func TestYes(t *testing.T) {
	assert.True(t, Yes("y"))
	assert.True(t, Yes(" YES "))
	assert.False(t, Yes("no"))
	assert.False(t, Yes(""))
}

func TestItemAndBanner(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	Banner(&buf, "ART\n", "v1.2.3")
	Item(&buf, "HTTP", "localhost:3000")
	TailscaleItem(&buf, config.TailscaleConfig{Enabled: true, Hostname: "www", Funnel: true})

	out := buf.String()
	assert.Contains(t, out, "ART\n")
	assert.Contains(t, out, "version: v1.2.3")
	assert.Contains(t, out, "▶ HTTP:      localhost:3000")
	assert.Contains(t, out, "www [funnel]")
}
