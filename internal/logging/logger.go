// Package logging builds the process-wide zerolog logger from
// configuration and hands out component-scoped sub-loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level     string // debug, info, warn, error (default info)
	Format    string // "json" or "text" (default json)
	Component string // initial component field, optional
	Output    io.Writer
}

// New creates a zerolog.Logger from the config. Unknown levels fall
// back to info rather than failing startup.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	if cfg.Component != "" {
		logger = logger.With().Str("component", cfg.Component).Logger()
	}

	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

var (
	defaultLogger zerolog.Logger
	defaultOnce   sync.Once
	defaultMu     sync.RWMutex
	defaultSet    bool
)

// SetDefault installs the process-wide default logger.
func SetDefault(logger zerolog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
	defaultSet = true
}

// Default returns the process-wide logger, creating a plain JSON
// stdout logger on first use if none was installed.
func Default() zerolog.Logger {
	defaultMu.RLock()
	if defaultSet {
		l := defaultLogger
		defaultMu.RUnlock()
		return l
	}
	defaultMu.RUnlock()

	defaultOnce.Do(func() {
		defaultMu.Lock()
		if !defaultSet {
			defaultLogger = New(Config{})
			defaultSet = true
		}
		defaultMu.Unlock()
	})

	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
