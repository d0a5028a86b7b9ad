package history

import (
	"context"
	"database/sql"
	"fmt"

	"tickflow/internal/domain"
)

// DefaultListLimit caps ListRuns when the caller passes a non-positive limit.
const DefaultListLimit = 100

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS task_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT NOT NULL,
  name TEXT NOT NULL,
  slot INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  started_at DATETIME NOT NULL,
  finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id, finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_runs_finished ON task_runs(finished_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

// Store is the run history. It is only written by worker slots.
type Store interface {
	RecordRun(ctx context.Context, r domain.Run) error
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	ListTaskRuns(ctx context.Context, id domain.TaskID, limit int) ([]domain.Run, error)
}

type sqliteStore struct{ db *sql.DB }

func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

func (s *sqliteStore) RecordRun(ctx context.Context, r domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_runs (task_id,name,slot,attempts,success,error,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?)
`, string(r.TaskID), r.Name, r.Slot, r.Attempts, r.Success, r.Error, r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.TaskID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,task_id,name,slot,attempts,success,error,started_at,finished_at
FROM task_runs ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (s *sqliteStore) ListTaskRuns(ctx context.Context, id domain.TaskID, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,task_id,name,slot,attempts,success,error,started_at,finished_at
FROM task_runs WHERE task_id=? ORDER BY finished_at DESC, id DESC LIMIT ?`, string(id), limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]domain.Run, error) {
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		var r domain.Run
		var id string
		if err := rows.Scan(&r.ID, &id, &r.Name, &r.Slot, &r.Attempts, &r.Success, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.TaskID = domain.TaskID(id)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
