package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger used across the service.
// Development gets debug level and a console writer; production gets JSON on stdout.
// PRE: none
// POST: log.Logger is replaced and returned
func Setup(isDev bool) zerolog.Logger {
	return SetupWriter(isDev, os.Stdout)
}

// SetupWriter is Setup with an explicit output, used by tests.
func SetupWriter(isDev bool, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if isDev {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if isDev {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).With().Timestamp().Str("service", "welfare").Logger()
	log.Logger = l
	return l
}
