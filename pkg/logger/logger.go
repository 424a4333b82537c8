// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
)

// Setup configures the global logger for the named worker process.
// Production gets a JSON handler for machine parsing; anything else gets a
// human-readable text handler at debug level. The returned logger carries a
// "worker" attribute and is also installed as the slog default.
func Setup(env, worker string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("worker", worker)
	slog.SetDefault(logger)

	return logger
}
