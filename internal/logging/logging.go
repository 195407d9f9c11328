// Package logging builds the slog logger every component receives.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/tandasync/internal/config"
)

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// New creates a logger writing to w. verbose forces debug level, the way
// the CLI's --verbose flag does.
func New(cfg config.LoggingConfig, w io.Writer, verbose bool) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
