// Package logging configures the global zerolog logger and emits the
// one-line startup summary of a build.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// ASSETPIPE_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// ASSETPIPE_LOG_FORMAT selects console (default) or json output on stderr.
func Init() {
	InitTo(os.Stderr)
}

// InitTo is Init writing to w.
func InitTo(w io.Writer) {
	zerolog.SetGlobalLevel(parseLevel(os.Getenv("ASSETPIPE_LOG_LEVEL")))

	if os.Getenv("ASSETPIPE_LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

func parseLevel(level string) zerolog.Level {
	switch level {
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
