// Package logging provides structured logging using zerolog.
//
// It configures zerolog based on the application configuration
// and provides helpers for common logging patterns.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger based on the provided configuration.
//
// It sets the log level, output format, and other logging preferences.
// Should be called once during application initialization.
func Setup(level string, format string) error {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(logLevel)

	var output io.Writer = os.Stdout

	if format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	if format == "console" {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Info().
		Str("level", level).
		Str("format", format).
		Msg("Logger initialized")

	return nil
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// WithTraceID adds the per-request trace id to the logger context.
//
// Example usage:
//
//	logger := logging.WithTraceID(ctx.TraceID)
//	logger.Info().Msg("evaluating rate limit")
func WithTraceID(traceID string) zerolog.Logger {
	return log.With().Str("trace_id", traceID).Logger()
}

// WithComponent adds a component name to the logger context.
//
// Useful for identifying which part of the application is logging.
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithError adds an error to the logger context.
func WithError(err error) *zerolog.Event {
	return log.Error().Err(err)
}

// LogPanic logs a panic with stack trace.
//
// Should be used in defer recover() blocks.
func LogPanic(recovered interface{}) {
	log.Error().
		Interface("panic", recovered).
		Stack().
		Msg("Panic recovered")
}
