// Package logging builds the zerolog logger shared by the service, the HTTP
// boundary and the CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w (stderr when nil). format is
// "json" or "console"; an unknown level falls back to info.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Logger()
}

// Nop discards everything; used by tests and library callers without a sink.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
