package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickflow/internal/config"
	"tickflow/internal/domain"
	"tickflow/internal/health"
	"tickflow/internal/scheduler"
	"tickflow/internal/tasks"
)

type fakeCoordinator struct {
	snap scheduler.Snapshot
	err  error
}

func (f *fakeCoordinator) Snapshot(context.Context) (scheduler.Snapshot, error) { return f.snap, f.err }

type fakeTasks struct {
	launched []config.TaskConfig
	removed  []domain.TaskID
}

func (f *fakeTasks) Launch(name string, sched config.TaskConfig) (*domain.TimedTask, error) {
	if name != "backup" {
		return nil, fmt.Errorf("%w: %q", tasks.ErrUnknownDefinition, name)
	}
	if sched.Every == "" {
		return nil, errors.New("no schedule")
	}
	f.launched = append(f.launched, sched)
	return &domain.TimedTask{ID: "tsk_1", Name: name, Schedule: domain.Every{Interval: time.Minute}}, nil
}

func (f *fakeTasks) Remove(id domain.TaskID) { f.removed = append(f.removed, id) }
func (f *fakeTasks) Names() []string { return []string{"backup"} }

type fakeRuns struct {
	limits []int
	taskID domain.TaskID
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]domain.Run, error) {
	f.limits = append(f.limits, limit)
	return []domain.Run{{ID: 1, TaskID: "tsk_1", Name: "backup", Success: true}}, nil
}

func (f *fakeRuns) ListTaskRuns(_ context.Context, id domain.TaskID, limit int) ([]domain.Run, error) {
	f.taskID = id
	return []domain.Run{}, nil
}

type fixture struct {
	coord  *fakeCoordinator
	tasks  *fakeTasks
	runs   *fakeRuns
	health *health.Registry
	h      http.Handler
}

func newFixture(rl config.RateConfig) *fixture {
	f := &fixture{
		coord: &fakeCoordinator{snap: scheduler.Snapshot{
			Slots:     4,
			FreeSlots: 3,
			Pending:   []scheduler.TaskView{{ID: "tsk_2", Name: "report", State: scheduler.StatePending}},
			Running:   []scheduler.TaskView{{ID: "tsk_1", Name: "backup", State: scheduler.StateRunning}},
			Overflow:  []scheduler.TaskView{},
		}},
		tasks:  &fakeTasks{},
		runs:   &fakeRuns{},
		health: health.NewRegistry(),
	}
	f.h = NewServer(Deps{
		Coordinator: f.coord,
		Tasks:       f.tasks,
		Runs:        f.runs,
		Health:      f.health,
		RateLimit:   rl,
		Log:         zerolog.Nop(),
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(config.RateConfig{})

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.health.Report("task/backup", errors.New("exit 1"))
	rec = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var st health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "DOWN", st.Status)
	require.Len(t, st.Checks, 1)
	assert.Equal(t, "task/backup", st.Checks[0].Name)
}

func TestMetrics(t *testing.T) {
	f := newFixture(config.RateConfig{})
	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "tickflow_slots 4\n")
	assert.Contains(t, body, "tickflow_slots_busy 1\n")
	assert.Contains(t, body, `tickflow_tasks{state="pending"} 1`)
	assert.Contains(t, body, `tickflow_tasks{state="overflow"} 0`)
	assert.Contains(t, body, "tickflow_healthy 1\n")

	f.health.Report("task/backup", errors.New("exit 1"))
	body = f.do(http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, "tickflow_healthy 0\n")
	assert.Contains(t, body, "tickflow_failing_components 1\n")

	f.coord.err = scheduler.ErrStopped
	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListTasks(t *testing.T) {
	f := newFixture(config.RateConfig{})
	rec := f.do(http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.FreeSlots)
	require.Len(t, snap.Running, 1)
	assert.Equal(t, domain.TaskID("tsk_1"), snap.Running[0].ID)
}

func TestLaunchTask(t *testing.T) {
	f := newFixture(config.RateConfig{})

	rec := f.do(http.MethodPost, "/api/tasks", `{"definition":"backup","every":"1m"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp launchResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.TaskID("tsk_1"), resp.ID)
	assert.Equal(t, "every 1m0s", resp.Schedule)
	require.Len(t, f.tasks.launched, 1)
	assert.Equal(t, "1m", f.tasks.launched[0].Every)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/tasks", `{"definition":"nope","every":"1m"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/tasks", `{"definition":"backup"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/tasks", `{"every":"1m"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/tasks", `{"definition":"backup","cron":"* * * * *"}`).Code)
}

func TestRemoveTask(t *testing.T) {
	f := newFixture(config.RateConfig{})
	rec := f.do(http.MethodDelete, "/api/tasks/tsk_9", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []domain.TaskID{"tsk_9"}, f.tasks.removed)
}

func TestRuns(t *testing.T) {
	f := newFixture(config.RateConfig{})

	rec := f.do(http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	f.do(http.MethodGet, "/api/runs?limit=999999", "")
	assert.Equal(t, []int{5, maxRunsLimit}, f.runs.limits)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/runs?limit=-2", "").Code)

	rec = f.do(http.MethodGet, "/api/tasks/tsk_1/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskID("tsk_1"), f.runs.taskID)
}

func TestDefinitions(t *testing.T) {
	f := newFixture(config.RateConfig{})
	rec := f.do(http.MethodGet, "/api/definitions", "")
	assert.JSONEq(t, `["backup"]`, rec.Body.String())
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	f := newFixture(config.RateConfig{PerSecond: 0.001, Burst: 2})

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodDelete, "/api/tasks/a", "").Code)
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodDelete, "/api/tasks/b", "").Code)
	rec := f.do(http.MethodDelete, "/api/tasks/c", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/tasks", "").Code)
}
