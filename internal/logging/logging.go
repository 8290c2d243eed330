// Package logging wraps log/slog the way the teacher's own logging
// package does: a process-wide handler built from a configured level,
// component-scoped child loggers, and a Trace helper for sub-debug
// chatter used by high-frequency callbacks.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger from a level string
// ("DEBUG", "INFO", "WARN", "ERROR") and writer (nil defaults to
// stderr). Returns the configured logger; also installs it as
// slog.Default() so package-level slog.Info/Warn/etc. calls route
// through it.
func Init(levelStr string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := parseLevel(levelStr)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with a "component" attribute,
// mirroring the teacher's `slog.With("component", ...)` convention.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Trace logs at debug level with a "trace" marker, for the
// highest-frequency diagnostics (e.g. per-telemetry-tick checks) that
// would otherwise flood a DEBUG-level run.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Debug(msg, append([]any{"trace", true}, args...)...)
}
