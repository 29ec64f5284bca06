package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages outside infra depend on the
// logging contract rather than the module path.
type Logger = zerolog.Logger

// NewLogger constructs the service logger. Development gets a console writer
// at debug level; everything else emits JSON at info.
func NewLogger(appEnv string) Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("app", "studio").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// NopLogger discards everything; components fall back to it when built
// without a logger.
func NopLogger() Logger {
	return zerolog.New(io.Discard)
}
