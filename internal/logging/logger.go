package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Logs go to stderr so command output on stdout stays clean for scripts.
func NewLogger(env string, verbose bool) *slog.Logger {
	return NewLoggerTo(os.Stderr, env, verbose)
}

// NewLoggerTo is NewLogger with an explicit destination. Production uses
// JSON at info level; everything else uses text, at debug level only
// when verbose is set.
func NewLoggerTo(w io.Writer, env string, verbose bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		if verbose {
			opts.Level = slog.LevelDebug
		}
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used by tests and by
// library callers that do not want log output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
