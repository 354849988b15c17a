package main

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func parseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// newLogger builds the process logger and sets the global level so that
// later hot-reloads of log_level take effect everywhere.
func newLogger(level string, json bool, w io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(level))
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "pipelined").Logger()
}
