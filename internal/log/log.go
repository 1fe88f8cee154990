// Package log provides the logging infrastructure shared across sage.
//
// It is a thin layer over log/slog: a type alias so components can declare a
// log.Logger dependency, plus factory functions for the handful of
// configurations the application needs. Loggers are always injected through
// constructors, never reached for as globals; components add their own context
// with logger.With("component", ...).
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is an alias for *slog.Logger. Using the standard library type
// directly keeps the full slog ecosystem (With, groups, handlers) available
// without an interface of our own in the way.
type Logger = *slog.Logger

// Config controls how a logger is constructed.
type Config struct {
	// Level is the minimum level that will be emitted. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches output from text to JSON records.
	JSON bool

	// AddSource annotates each record with the emitting file and line.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Tests use this to capture
// output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards everything. Test-only: production
// code should always log somewhere.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
