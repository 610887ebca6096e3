// Package console holds what the platform-engine binaries print and read on
// a terminal: the colorized slog handler, startup banner lines, the default
// config and data paths, and the prompts used by init subcommands.
package console
