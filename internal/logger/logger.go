// Package logger holds the process-wide structured logger used by the
// allocator and heapctl. It discards everything until Init or the HEAPKIT_LOG
// environment variable turns it on.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable read by FromEnv.
const EnvVar = "HEAPKIT_LOG"

// L is the global logger instance. It's initialized to discard all output by default.
var L = slog.New(slog.DiscardHandler)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON instead of logfmt-style text
	Output  io.Writer  // Destination. Default: os.Stderr
}

// Init configures logging. Call from main() before any allocator use.
func Init(opts Options) {
	L = New(opts)
}

// New builds a logger from opts without touching L.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return slog.New(slog.DiscardHandler)
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, hopts))
	}
	return slog.New(slog.NewTextHandler(out, hopts))
}

// FromEnv enables stderr logging when HEAPKIT_LOG is set to a level name
// (debug, info, warn, error).
func FromEnv() {
	v := strings.TrimSpace(os.Getenv(EnvVar))
	if v == "" {
		return
	}
	level, ok := ParseLevel(v)
	if !ok {
		level = slog.LevelInfo
	}
	Init(Options{Enabled: true, Level: level})
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(s string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}

// Enabled reports whether l would emit a record at level. Hot paths check it
// before building attributes.
func Enabled(l *slog.Logger, level slog.Level) bool {
	return l.Enabled(context.Background(), level)
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
