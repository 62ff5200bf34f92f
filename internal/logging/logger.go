// Package logging provides structured logging for startgrid built on zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration
type Config struct {
	Level      zerolog.Level
	Format     string // "json" or "console"
	TimeFormat string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:      zerolog.InfoLevel,
		Format:     "console",
		TimeFormat: time.RFC3339,
	}
}

// New creates a new zerolog logger with the given configuration
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stderr

	switch cfg.Format {
	case "console":
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: cfg.TimeFormat,
		}
	case "json":
		// JSON is the default zerolog format
		output = os.Stderr
	}

	return zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Logger()
}

// NewFromConfigValues creates a logger from plain string settings, as found in
// the configuration file.
func NewFromConfigValues(level, format string) zerolog.Logger {
	cfg := DefaultConfig()
	cfg.Level = parseLevel(level)
	if format == "json" || format == "console" {
		cfg.Format = format
	}
	return New(cfg)
}

// NewFromEnv creates a logger based on environment variables
// STARTGRID_LOG_LEVEL: trace, debug, info, warn, error (default: info)
// STARTGRID_LOG_FORMAT: json, console (default: console)
func NewFromEnv() zerolog.Logger {
	return NewFromConfigValues(
		os.Getenv("STARTGRID_LOG_LEVEL"),
		os.Getenv("STARTGRID_LOG_FORMAT"),
	)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// TruncateURL shortens a URL for log output so icon data URLs never flood logs.
func TruncateURL(url string, maxLen int) string {
	if maxLen <= 3 || len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}
