// Package logger provides structured logging for the chat daemon.
// It uses Go's slog package with configurable level and output format.
package logger

import (
	"log/slog"
	"os"
)

// New creates a new slog Logger with the specified level and format.
// If jsonOutput is true, logs are formatted as JSON, otherwise as text.
func New(levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
