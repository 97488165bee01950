// Package logger builds the zerolog logger shared by the binaries.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger. Level is one of debug, info, warn, error;
// anything else means info. Development mode writes colored console output,
// otherwise JSON lines go to stdout.
func New(service, level string, development bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, level, development)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, service, level string, development bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if development {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service)
	if development {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
