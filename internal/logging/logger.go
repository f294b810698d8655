// Package logging configures zerolog for synapse and hands out
// component-scoped loggers. Components never log through a package-level
// global; they receive a zerolog.Logger at construction so tests can
// swap in a silent one.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls log output.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`

	// File is an optional path for persistent logs. Empty means stderr only.
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns production-leaning defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
	}
}

// New builds the root logger from cfg.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			out = zerolog.MultiLevelWriter(out, f)
		}
		// A broken log file path is not worth failing startup over;
		// stderr output still works.
	}

	return zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
