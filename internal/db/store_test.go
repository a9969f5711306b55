package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/db/migrations"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "muatool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	v, err := migrations.Version(s.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestErrorLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertErrorLog(ctx, InsertErrorLogParams{Level: "error", Module: "channel", Message: "first"}))
	require.NoError(t, s.InsertErrorLog(ctx, InsertErrorLogParams{
		Level:      "panic",
		Module:     "topology",
		Message:    "second",
		Stacktrace: sql.NullString{String: "goroutine 1", Valid: true},
	}))

	logs, err := s.ListErrorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "second", logs[0].Message)
	assert.Equal(t, "goroutine 1", logs[0].Stacktrace.String)
	assert.False(t, logs[1].Stacktrace.Valid)

	n, err := s.PruneErrorLogs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
