package main

import (
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// newLogger installs a text logger on stderr at the named level and returns it.
// Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	setLevel(level)
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(l)
	return l
}

func setLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}
