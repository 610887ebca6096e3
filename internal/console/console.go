// ABOUTME: Terminal helpers shared by the platform-engine binaries
// ABOUTME: Colorized slog handler, startup banner lines, config paths and interactive prompts

package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/platform-engine/internal/config"
)

// ConfigPath returns the config file for a binary.
// Priority: PLATFORM_CONFIG env var > XDG_CONFIG_HOME/platform-engine/<name>.yaml > ~/.config/platform-engine/<name>.yaml
func ConfigPath(name string) string {
	if envPath := os.Getenv("PLATFORM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return name + ".yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "platform-engine", name+".yaml")
}

// DataPath returns the platform-engine data directory.
// Priority: XDG_DATA_HOME/platform-engine > ~/.local/share/platform-engine
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "platform-engine")
}

// Banner prints the binary's banner and version.
func Banner(w io.Writer, art, version string) {
	color.New(color.FgCyan).Fprint(w, art)
	color.New(color.FgHiBlack).Fprintf(w, "    version: %s\n\n", version)
}

// Item prints one "▶ label: value" startup line.
func Item(w io.Writer, label, value string) {
	color.New(color.FgGreen).Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "%-10s %s\n", label+":", value)
}

// TailscaleItem prints the tailnet hostname with its funnel and ephemeral flags.
func TailscaleItem(w io.Writer, ts config.TailscaleConfig) {
	if !ts.Enabled {
		return
	}
	color.New(color.FgGreen).Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "%-10s ", "Tailscale:")
	color.New(color.FgCyan).Fprint(w, ts.Hostname)
	if ts.Funnel {
		color.New(color.FgYellow).Fprint(w, " [funnel]")
	}
	if ts.Ephemeral {
		color.New(color.FgHiBlack).Fprint(w, " (ephemeral)")
	}
	fmt.Fprintln(w)
}

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger builds the process logger from the logging config and installs
// it as the slog default.
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewColorHandler(w, level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ColorHandler provides colorized log output with thread-safe writes.
type ColorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewColorHandler writes records at or above level to out.
func NewColorHandler(out io.Writer, level slog.Level) *ColorHandler {
	return &ColorHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &ColorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &ColorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

// Prompt asks question on w and reads one line from reader, returning
// defaultVal on an empty answer or EOF.
func Prompt(reader *bufio.Reader, w io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(w, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		fmt.Fprintln(w)
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// Yes reports whether an answer means yes.
func Yes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "yes" || a == "y"
}
