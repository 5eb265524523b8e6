// Package logging configures the global zerolog logger from a flag or the
// EIM_CAMERA_LOG_LEVEL environment variable.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv is the environment variable read when no level is given.
const LevelEnv = "EIM_CAMERA_LOG_LEVEL"

// Init initializes the global logger. level is one of debug, info, warn and
// error. If level is empty, EIM_CAMERA_LOG_LEVEL is used (default: info).
func Init(level string) {
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel returns the zerolog level for a name, InfoLevel if unknown.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
