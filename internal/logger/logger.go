// Package logger sets up zerolog for the process and hands out component loggers.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a logger tagged with the given component
func New(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// Nop returns a logger that discards everything
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Setup configures the global logger. Debug output is enabled when
// the DEBUG environment variable is set.
func Setup(out io.Writer) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if _, debug := os.LookupEnv("DEBUG"); debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	})
}
