// Package logger wraps zerolog behind the Infof/Warnf/Errorf/Debugf call
// shape used throughout this codebase, with an escape hatch (L()) for
// structured field-chaining on hot paths.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	format := os.Getenv("LOG_FORMAT")
	var w zerolog.ConsoleWriter
	if format == "json" {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	base = zerolog.New(w).With().Timestamp().Logger()
}

// L returns the underlying zerolog.Logger for structured, chained logging
// (e.g. logger.L().Info().Str("underlying", u).Dur("elapsed", d).Msg("...")).
func L() *zerolog.Logger { return &base }

func Debugf(format string, args ...interface{}) { base.Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { base.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Error().Msgf(format, args...) }

// SetLevel adjusts the global minimum level, e.g. for quieter test runs.
func SetLevel(l zerolog.Level) { zerolog.SetGlobalLevel(l) }
