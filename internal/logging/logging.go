// Package logging builds the process logger from the log config section.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Level  string // debug | info | warn | error
	Format string // text | json
	File   string // optional; logs go to stderr and this file
}

// New returns the logger and a close func for the log file, if any.
func New(cfg Config) (*slog.Logger, func() error, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, noop, err
	}

	out := stderr
	closeFn := noop
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, noop, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("cannot open log file %s: %w", cfg.File, err)
		}
		out = io.MultiWriter(stderr, f)
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	case "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		closeFn()
		return nil, noop, fmt.Errorf("unknown log format: %s", cfg.Format)
	}
	return slog.New(h), closeFn, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}
