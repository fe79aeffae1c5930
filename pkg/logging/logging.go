// Package logging provides the configured zerolog instance.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is added to every log line.
const ServiceName = "notebook-slack-ntfy"

// Options configures NewLogger.
type Options struct {
	Level string
	// Out defaults to stderr so logs never mix with cell output.
	Out     io.Writer
	NoColor bool
}

// NewLogger creates a console logger at the given level. An unknown level
// falls back to info.
func NewLogger(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    opts.NoColor,
		TimeFormat: time.Kitchen,
	}

	return zerolog.New(consoleWriter).With().
		Timestamp().
		Str("service", ServiceName).
		Logger().
		Level(level)
}
