// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Init sets the global logger. Console output goes to stderr so stdout stays
// free for command output such as `layers`.
func Init(verbose bool, format string) error {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	w, err := writerFor(format, os.Stderr)
	if err != nil {
		return err
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func writerFor(format string, out io.Writer) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}, nil
	case FormatJSON:
		return out, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// NewLogger creates a logger writing to every writer, or the global logger
// when none are given
func NewLogger(writers ...io.Writer) zerolog.Logger {
	switch len(writers) {
	case 0:
		return log.Logger
	case 1:
		return zerolog.New(writers[0]).With().Timestamp().Logger()
	default:
		return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	}
}

// WithComponent creates a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
