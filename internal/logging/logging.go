// Package logging configures the engine-wide zerolog logger. File outputs
// rotate through lumberjack; console output uses zerolog's console writer
// unless JSON format is requested.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"signal-engine/config"
)

// New builds a logger from the logging configuration.
func New(cfg config.LoggingConfig) zerolog.Logger {
	var out io.Writer

	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
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

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Strategy returns a child logger tagged with strategy execution fields.
func Strategy(log zerolog.Logger, strategyName, symbol string) zerolog.Logger {
	return log.With().
		Str("strategy", strategyName).
		Str("symbol", symbol).
		Logger()
}
