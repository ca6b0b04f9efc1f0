// Package logger builds the daemon's slog logger. Log output goes to stderr
// and, optionally, a lumberjack-rotated file; stdout is reserved for the
// MCP stdio transport and must never carry log lines.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations and level.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Color      bool   // colorize level names on stderr
	File       string // optional rotated log file path
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a logger from c. The returned closer flushes and closes the
// file writer when one is configured; it is always non-nil.
func New(c Config) (*slog.Logger, io.Closer) {
	level := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stderr
	closer := io.Closer(nopCloser{})
	if c.File != "" {
		file := &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		w = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	var h slog.Handler
	if c.Color {
		h = NewColorTextHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
