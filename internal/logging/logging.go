// Package logging wires the shared zerolog setup used by both
// cmd/snapdogd and cmd/knxmon: a single process-wide logger configured
// once from the SYSTEM_LOG_LEVEL config key, with per-component
// sub-loggers carrying a "component" field instead of a log-message
// prefix string.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. level accepts zerolog level names
// ("debug", "info", "warn", "error") case-insensitively; an unrecognized
// value falls back to info. pretty selects the human-readable console
// writer (suited to a terminal); false emits structured JSON lines
// (suited to log aggregation).
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a sub-logger tagging every record with component=name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
