package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	level    = new(slog.LevelVar)
)

// Setup installs the process-wide slog handler. format is "json" or "text".
func Setup(lvl, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level.Set(ParseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// SetLevel changes the level of the handler installed by Setup.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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

// Component returns the default logger tagged with a component attribute.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Disable turns off the printf helpers
func Disable() {
	disabled.Store(true)
}

// Enable turns the printf helpers back on
func Enable() {
	disabled.Store(false)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		slog.Info(fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		slog.Warn(fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		slog.Error(fmt.Sprintf(format, v...))
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled.Load() {
		slog.Debug(fmt.Sprintf(format, v...))
	}
}
