package featex

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a text logger on w as the
// default slog logger.
//
// The level is taken from level if it is non-empty, then
// from the FEATEX_LOG_LEVEL environment variable, and
// defaults to INFO.
func ConfigureLogging(w io.Writer, level string) {
	if level == "" {
		level = os.Getenv("FEATEX_LOG_LEVEL")
	}
	logLevel.Set(ParseLogLevel(level))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// ParseLogLevel maps DEBUG, INFO, WARN and ERROR (in any
// case) to levels.
// Anything else yields INFO.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the level of the logger installed
// by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
