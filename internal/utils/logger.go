package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a level name onto a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger returns a slog.Logger configured for the desired verbosity and format.
// When file is set, records are also written to it as JSON. The returned cleanup
// closes the file.
func NewLogger(level string, json bool, file string) (*slog.Logger, func() error) {
	handlerLevel := ParseLevel(level)

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel})
	}

	if file == "" {
		return slog.New(handler), func() error { return nil }
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(handler)
		logger.Error("failed to open log file, using stdout only", slog.String("file", file), slog.Any("error", err))
		return logger, func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: handlerLevel})
	return slog.New(slogmulti.Fanout(handler, fileHandler)), f.Close
}

// NewLoggerWithWriters builds a fan-out logger over arbitrary writers (used by tests).
func NewLoggerWithWriters(text, json io.Writer, level slog.Level) *slog.Logger {
	textHandler := slog.NewTextHandler(text, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(json, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(textHandler, jsonHandler))
}
