// Package logging provides structured logging configuration using log/slog.
//
// Every log entry emitted while a file attempt is running carries the
// attempt's log_id and source_filename, enabling correlation of all
// entries for a single file across the pipeline phases.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForFile returns a logger bound to one file attempt.
//
// The returned logger includes log_id and source_filename in all entries,
// so every phase of a pipeline run logs with the same correlation keys.
//
// Usage:
//
//	logger := logging.ForFile(logID, filename)
//	logger.Info("archive copy complete")
func ForFile(logID int64, sourceFilename string) *slog.Logger {
	return slog.Default().With(
		"log_id", logID,
		"source_filename", sourceFilename,
	)
}

// WithFields returns a logger with additional structured fields.
//
// This is useful for creating operation-specific loggers that carry
// consistent context through a multi-step process.
func WithFields(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}
