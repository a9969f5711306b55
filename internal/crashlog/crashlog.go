// Package crashlog persists errors and recovered panics to the local
// database so they survive a crash.
package crashlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/muatool/dashboard/internal/db"
)

// Logger persists errors and panics to the error_logs table.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	store *db.Store
	mu    sync.Mutex
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init sets up the global crash logger. Call once at startup. A nil store
// turns persistence off.
func Init(store *db.Store) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if store == nil {
		global = nil
		return
	}
	global = &Logger{store: store}
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// LogPanic records a recovered panic with a stack trace.
// Safe to call even if Init was never called.
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 8192)
	n := runtime.Stack(stack, false)
	stackStr := string(stack[:n])

	slog.Error("panic recovered", "component", module, "panic", msg, "stack", stackStr)

	if l := current(); l != nil {
		l.insert("panic", module, msg, stackStr, ctx)
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	if l := current(); l != nil {
		l.insert("error", module, err.Error(), "", ctx)
		return
	}
	slog.Error(err.Error(), "component", module)
}

// LogWarn records a warning.
func LogWarn(module string, msg string, ctx map[string]string) {
	if l := current(); l != nil {
		l.insert("warn", module, msg, "", ctx)
		return
	}
	slog.Warn(msg, "component", module)
}

// Recover is deferred at goroutine roots. It records a panic and, when
// onPanic is set, hands the value on.
func Recover(module string, onPanic func(r any)) {
	if r := recover(); r != nil {
		LogPanic(module, r, nil)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

// Prune drops entries older than maxAge.
func Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	l := current()
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.PruneErrorLogs(ctx, time.Now().Add(-maxAge))
}

func (l *Logger) insert(level, module, message, stacktrace string, ctx map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ctxJSON sql.NullString
	if len(ctx) > 0 {
		if b, err := json.Marshal(ctx); err == nil {
			ctxJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	var stackNull sql.NullString
	if stacktrace != "" {
		stackNull = sql.NullString{String: stacktrace, Valid: true}
	}

	err := l.store.InsertErrorLog(context.Background(), db.InsertErrorLogParams{
		Level:      level,
		Module:     module,
		Message:    message,
		Stacktrace: stackNull,
		Context:    ctxJSON,
	})
	if err != nil {
		slog.Warn("crash log write failed", "component", "crashlog", "error", err)
	}
}
