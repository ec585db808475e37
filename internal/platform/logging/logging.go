// Package logging provides the structured-logging conventions shared by
// every engine and application component: a resolve-or-default helper, and
// the event/module/layer key triad used on every log line.
package logging

import (
	"log/slog"
	"os"
)

// ResolveLogger returns logger, or slog's default if logger is nil.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// NewJSON builds a JSON-handler logger at the given level, suitable as a
// process-wide logger; it does not install itself via slog.SetDefault.
func NewJSON(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// With attaches the module/layer pair every engine log line carries,
// alongside the caller-supplied event name.
func With(logger *slog.Logger, module, layer string) *slog.Logger {
	return ResolveLogger(logger).With("module", module, "layer", layer)
}
