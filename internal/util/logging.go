package util

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets the global zerolog level and output. format "console"
// writes human-readable lines; anything else writes JSON.
func ConfigureLogging(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, NoColor: true})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
