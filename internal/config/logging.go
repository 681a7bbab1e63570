package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// SetupLogger creates a JSON logger on stdout. When cfg.File is set, records
// are also appended to that file. The returned cleanup closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	stdoutHandler := slog.NewJSONHandler(os.Stdout, opts)

	if cfg.File == "" {
		return slog.New(stdoutHandler), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stdoutHandler)
		logger.Error("failed to open log file, using stdout only", "error", err, "file", cfg.File)
		return logger, func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, opts)
	return slog.New(slogmulti.Fanout(stdoutHandler, fileHandler)), file.Close
}

// SetupLoggerWithWriters fans out to two writers (for testing).
func SetupLoggerWithWriters(primary, secondary io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(primary, opts),
		slog.NewJSONHandler(secondary, opts),
	))
}
