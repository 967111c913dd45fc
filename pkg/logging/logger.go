// Package logging builds the process slog logger, optionally writing JSON
// lines to a rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"thrivesight/pkg/config"
)

// ParseLevel maps a config level name to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
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

// New creates a JSON logger tagged with service and module. When cfg.File is
// set, output goes through lumberjack rotation instead of stdout.
func New(cfg config.LogConfig, service, module string) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	}
	return NewWithWriter(w, cfg.Level, service, module)
}

func NewWithWriter(w io.Writer, level, service, module string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})
	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("module", module),
	)
}

// Init installs the logger as slog's default and returns it.
func Init(cfg config.LogConfig, service string) *slog.Logger {
	l := New(cfg, service, "main")
	slog.SetDefault(l)
	return l
}

// Discard is a logger for tests and library callers that pass nil.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
