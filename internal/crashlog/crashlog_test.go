package crashlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/db"
)

func initStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "muatool.db"))
	require.NoError(t, err)
	Init(store)
	t.Cleanup(func() {
		Init(nil)
		store.Close()
	})
	return store
}

func TestRecoverRecordsPanic(t *testing.T) {
	store := initStore(t)

	var got any
	func() {
		defer Recover("topology", func(r any) { got = r })
		panic("boom")
	}()

	assert.Equal(t, "boom", got)
	logs, err := store.ListErrorLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "panic", logs[0].Level)
	assert.Equal(t, "topology", logs[0].Module)
	assert.Contains(t, logs[0].Stacktrace.String, "goroutine")
}

func TestLogErrorWithContext(t *testing.T) {
	store := initStore(t)

	LogError("channel", errors.New("dial failed"), map[string]string{"url": "wss://x"})
	LogError("channel", nil, nil)
	LogWarn("updater", "check skipped", nil)

	logs, err := store.ListErrorLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "warn", logs[0].Level)
	assert.JSONEq(t, `{"url":"wss://x"}`, logs[1].Context.String)

	n, err := Prune(context.Background(), -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
