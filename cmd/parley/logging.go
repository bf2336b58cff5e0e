package main

import (
	"io"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
)

// newLogger builds the process logger. The level is read through lv so the
// config watcher can change it at runtime.
func newLogger(w io.Writer, format config.LogFormat, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
