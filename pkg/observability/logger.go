package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the SDK's structured logger: JSON to stdout, scoped with
// the owning component's name. Components derive narrower loggers with
// .With("component", ...).
func NewLogger(component string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With("component", component)
}

// NopLogger discards everything; the default when an embedder supplies none.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
