// Package logging configures the process-wide slog logger. Every log line
// carries a "service" attribute so docstage instances sharing a log sink
// with other services on the same host can be told apart.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ServiceName is the value of the "service" attribute on every log line.
const ServiceName = "docstage"

// Setup installs the default slog logger writing to w.
// Supported levels: "debug", "info", "warn", "error" (default: "info").
// Supported formats: "text", "json" (default: "text").
func Setup(level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler).With(slog.String("service", ServiceName)))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
