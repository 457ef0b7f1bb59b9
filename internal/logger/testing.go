package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewSlogLogger returns a Logger writing text to w, for tests and CLI tools.
// A nil w writes to stdout, a nil tz uses local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl := parseLogLevel(string(level))
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, lvl, tz)),
		level:  lvl,
	}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() Logger {
	return &moduleLogger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		level:  slog.LevelError + 1,
	}
}
