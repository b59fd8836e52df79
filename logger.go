package main

import (
	"io"
	"log/slog"
	"strings"
)

// parseLevel maps the configured level name onto a slog level. Unknown names fall back to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates the process logger. The level is read through levelVar so it can be changed at runtime.
func NewLogger(cfg *Config, levelVar *slog.LevelVar, out io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		AddSource: false,
		Level:     levelVar,
	}

	levelVar.Set(slog.LevelInfo)

	if cfg != nil {
		levelVar.Set(parseLevel(cfg.Server.Logging.Level))

		if cfg.Server.Logging.Level == "debug" {
			handlerOpts.AddSource = true
		}

		if cfg.Server.Logging.JSON {
			return slog.New(slog.NewJSONHandler(out, handlerOpts))
		}
	}

	return slog.New(slog.NewTextHandler(out, handlerOpts))
}
