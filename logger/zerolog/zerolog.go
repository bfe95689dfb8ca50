package zerolog

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// New builds the session logger. With jsonFormat the raw zerolog JSON
// goes to stdout; otherwise a console writer renders human-readable
// lines with the given time layout.
func New(level, dateTimeLayout string, colored, jsonFormat bool) (*Adapter, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logMode, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(logMode)

	logger := log.Logger
	if !jsonFormat {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    !colored,
			TimeFormat: dateTimeLayout,
		}
		logger = log.Output(output)
	}

	logger = logger.With().CallerWithSkipFrameCount(3).Logger()
	return NewAdapter(&logger), nil
}
