package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"tickflow/internal/domain"
)

func openStore(t *testing.T) Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureSchema(db))
	return NewSQLiteStore(db)
}

func TestRecordAndListRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, domain.Run{
		TaskID: "tsk_a", Name: "backup", Slot: 0, Attempts: 1, Success: true,
		StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.RecordRun(ctx, domain.Run{
		TaskID: "tsk_b", Name: "report", Slot: 1, Attempts: 3, Success: false,
		Error:     "boom",
		StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute),
	}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, domain.TaskID("tsk_b"), runs[0].TaskID)
	assert.Equal(t, "report", runs[0].Name)
	assert.Equal(t, 3, runs[0].Attempts)
	assert.False(t, runs[0].Success)
	assert.Equal(t, "boom", runs[0].Error)
	assert.True(t, runs[0].FinishedAt.Equal(base.Add(2*time.Minute)))

	assert.Equal(t, domain.TaskID("tsk_a"), runs[1].TaskID)
	assert.True(t, runs[1].Success)
	assert.NotZero(t, runs[1].ID)
}

func TestListRunsLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.RecordRun(ctx, domain.Run{TaskID: "tsk_x", Name: "x", StartedAt: at, FinishedAt: at}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 5)
}

func TestListTaskRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.RecordRun(ctx, domain.Run{TaskID: "tsk_a", Name: "a", StartedAt: now, FinishedAt: now}))
	require.NoError(t, s.RecordRun(ctx, domain.Run{TaskID: "tsk_b", Name: "b", StartedAt: now, FinishedAt: now}))

	runs, err := s.ListTaskRuns(ctx, "tsk_a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].Name)

	runs, err = s.ListTaskRuns(ctx, "tsk_missing", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
