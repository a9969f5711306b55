package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ErrorLog is one row of error_logs.
type ErrorLog struct {
	ID         int64          `json:"id"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Stacktrace sql.NullString `json:"-"`
	Context    sql.NullString `json:"-"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type InsertErrorLogParams struct {
	Level      string
	Module     string
	Message    string
	Stacktrace sql.NullString
	Context    sql.NullString
}

// Store wraps the database handle with the queries the app runs.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

const insertErrorLog = `INSERT INTO error_logs (level, module, message, stacktrace, context) VALUES (?, ?, ?, ?, ?)`

func (s *Store) InsertErrorLog(ctx context.Context, arg InsertErrorLogParams) error {
	_, err := s.db.ExecContext(ctx, insertErrorLog, arg.Level, arg.Module, arg.Message, arg.Stacktrace, arg.Context)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

const listErrorLogs = `SELECT id, level, module, message, stacktrace, context, created_at
FROM error_logs ORDER BY id DESC LIMIT ?`

// ListErrorLogs returns the newest limit rows, newest first.
func (s *Store) ListErrorLogs(ctx context.Context, limit int) ([]ErrorLog, error) {
	rows, err := s.db.QueryContext(ctx, listErrorLogs, limit)
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	defer rows.Close()

	var items []ErrorLog
	for rows.Next() {
		var i ErrorLog
		var created int64
		if err := rows.Scan(&i.ID, &i.Level, &i.Module, &i.Message, &i.Stacktrace, &i.Context, &created); err != nil {
			return nil, err
		}
		i.CreatedAt = time.Unix(created, 0)
		items = append(items, i)
	}
	return items, rows.Err()
}

const pruneErrorLogs = `DELETE FROM error_logs WHERE created_at < ?`

// PruneErrorLogs deletes rows older than before and returns how many went.
func (s *Store) PruneErrorLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneErrorLogs, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune error logs: %w", err)
	}
	return res.RowsAffected()
}
