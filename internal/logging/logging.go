// Package logging builds the zerolog logger every binary starts from.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// New returns a logger writing to stdout.
func New(cfg Config, service string) zerolog.Logger {
	return NewWithWriter(cfg, service, os.Stdout)
}

func NewWithWriter(cfg Config, service string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorFieldName = "err"

	out := w
	if !strings.EqualFold(cfg.Format, FormatJSON) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stdout}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to def for
// empty or unknown names.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def
	}
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
