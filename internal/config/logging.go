package config

import (
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the engine's logger: readable text on stderr plus a
// JSON stream appended to path, so generation runs and store batches can
// be inspected after the fact. When the file cannot be opened the logger
// degrades to stderr only. The returned closer releases the log file.
func SetupLogger(path string, level slog.Level) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: level}
	stderr := slog.NewTextHandler(os.Stderr, opts)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderr)
		logger.Warn("log file unavailable, logging to stderr only", "path", path, "error", err)
		return logger, func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(stderr, slog.NewJSONHandler(file, opts)))
	return logger, file.Close
}
