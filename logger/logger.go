// Package logger configures the process-wide zerolog logger. All packages
// obtain component loggers through WithComponent so every diagnostic carries
// a component field the consuming layer can filter on.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level  string    // "debug", "info", "warn", "error" (default "info")
	Format string    // "console" or "json" (default "console")
	Output io.Writer // defaults to os.Stderr
}

var (
	once sync.Once
	base = zerolog.Nop()
)

// Configure initialises the global logger exactly once. Until it is called,
// component loggers discard everything, which keeps tests quiet.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Format != "json" {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		}

		base = zerolog.New(out).With().Timestamp().Logger()
	})
}

// Base returns the configured root logger.
func Base() zerolog.Logger {
	return base
}

// WithComponent returns a logger tagged with the given component name.
func WithComponent(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
