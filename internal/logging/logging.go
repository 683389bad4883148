// Package logging centralizes the logiface logger type used throughout this
// module, following the logiface + izerolog (zerolog backend) pairing.
package logging

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is the concrete logiface event type backed by zerolog.
type Event = izerolog.Event

// Logger is the logger type every long-lived component accepts.
type Logger = *logiface.Logger[*Event]

var defaultLogger = New(zerolog.New(os.Stderr).With().Timestamp().Logger())

// New builds a Logger backed by the given zerolog.Logger.
func New(z zerolog.Logger) Logger {
	return logiface.New[*Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*Event](logiface.LevelInformational),
	)
}

// Default returns the package-level default logger, used whenever a
// component is constructed without an explicit Logger.
func Default() Logger {
	return defaultLogger
}
