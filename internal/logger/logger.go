// Package logger is the process-wide slog wrapper used by the CLI. Output is
// silent unless verbose mode is on; errors are always written.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu           sync.RWMutex
	globalLogger = slog.New(&silentHandler{})
	errorLogger  = newErrorLogger(os.Stderr)
	verboseMode  bool
)

// Init initializes the global logger with verbose mode setting
func Init(verbose bool) {
	InitTo(os.Stderr, verbose)
}

// InitTo is Init with an explicit destination.
func InitTo(w io.Writer, verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	verboseMode = verbose
	errorLogger = newErrorLogger(w)

	if verbose {
		opts := &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}
		globalLogger = slog.New(slog.NewTextHandler(w, opts))
	} else {
		globalLogger = slog.New(&silentHandler{})
	}
	slog.SetDefault(globalLogger)
}

func newErrorLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// silentHandler discards all log messages when verbose mode is disabled
type silentHandler struct{}

func (h *silentHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (h *silentHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (h *silentHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *silentHandler) WithGroup(_ string) slog.Handler {
	return h
}

func current() (*slog.Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger, verboseMode
}

func Debug(msg string, args ...any) {
	if l, verbose := current(); verbose {
		l.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if l, verbose := current(); verbose {
		l.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if l, verbose := current(); verbose {
		l.Warn(msg, args...)
	}
}

// Error always logs error messages regardless of verbose mode
func Error(msg string, args ...any) {
	mu.RLock()
	l := globalLogger
	if !verboseMode {
		l = errorLogger
	}
	mu.RUnlock()
	l.Error(msg, args...)
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	_, verbose := current()
	return verbose
}
