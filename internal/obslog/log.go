// Package obslog wires up the scheduler's process-wide zerolog logger,
// grounded on the teacher's initializeLogging (cmd/ollamacron/main.go).
package obslog

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configure the global logger.
type Options struct {
	Level   string // "debug", "info", "warn", "error"
	Console bool   // human-readable console writer instead of JSON
}

// Init sets zerolog's global level and writer, returning a logger scoped to
// the "schedsim" component for the caller to embed or clone further.
func Init(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	return log.With().Str("component", "schedsim").Logger()
}
