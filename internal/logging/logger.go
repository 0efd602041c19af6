// Package logging builds the structured loggers used across the importer
// and beacon binaries, and provides panic-recovery helpers for actor
// goroutines.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
	Name   string // component name, attached as the "component" field
}

// New creates a structured logger. JSON output is Loki-compatible; pretty
// output is for local development.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).With().Timestamp().Str("component", cfg.Name).Logger()
	return logger
}

// RecoverPanic is deferred at the top of every actor goroutine's Run. It
// logs a recovered panic with a stack trace but does not re-panic, so one
// actor crashing cannot take the whole process down through Go's default
// panic propagation (the watchdog and supervisor are the only components
// allowed to terminate the process).
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
