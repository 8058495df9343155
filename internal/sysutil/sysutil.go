// Package sysutil holds process bootstrap helpers for cmd/server.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogOptions controls ConfigureLogger.
type LogOptions struct {
	Level   string // debug|info|warn|error; unknown values mean info
	Pretty  bool   // human-readable console output instead of JSON
	Service string
	Version string
	Out     io.Writer // defaults to os.Stderr
}

// ParseLevel maps a config string to a zerolog level. "warning" is accepted
// as an alias; empty and unknown values yield info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// ConfigureLogger sets the global level and replaces log.Logger with one that
// stamps every line with service and version. It returns the new logger.
func ConfigureLogger(opt LogOptions) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(opt.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opt.Out
	if out == nil {
		out = os.Stderr
	}
	if opt.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if opt.Service != "" {
		ctx = ctx.Str("service", opt.Service)
	}
	if opt.Version != "" {
		ctx = ctx.Str("version", opt.Version)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// IsTruthy accepts 1, true, yes, y and on (case-insensitive).
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
