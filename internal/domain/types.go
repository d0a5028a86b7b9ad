package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskID identifies a timed task. It is generated once and never reused.
type TaskID string

func NewTaskID() TaskID { return TaskID("tsk_" + uuid.NewString()) }

// Work is the action a task runs on every firing.
type Work func(ctx context.Context) error

// Schedule is one of Every, Once or Each.
type Schedule interface {
	isSchedule()
	String() string
}

// Every fires repeatedly, Interval after the previous run.
type Every struct {
	Interval time.Duration
}

// Once fires a single time at At.
type Once struct {
	At time.Time
}

// Each fires on the given weekdays at TimeOfDay (offset from local midnight).
type Each struct {
	Weekdays  []time.Weekday
	TimeOfDay time.Duration
}

func (Every) isSchedule() {}
func (Once) isSchedule()  {}
func (Each) isSchedule()  {}

func (s Every) String() string { return "every " + s.Interval.String() }
func (s Once) String() string  { return "once at " + s.At.Format(time.RFC3339) }

func (s Each) String() string {
	days := make([]string, 0, len(s.Weekdays))
	for _, d := range s.Weekdays {
		days = append(days, d.String()[:3])
	}
	h := int(s.TimeOfDay / time.Hour)
	m := int(s.TimeOfDay % time.Hour / time.Minute)
	sec := int(s.TimeOfDay % time.Minute / time.Second)
	return fmt.Sprintf("each %s at %02d:%02d:%02d", strings.Join(days, ","), h, m, sec)
}

// RetryPolicy decides whether a failed attempt is retried and after what delay.
// attempt is 1-based and counts the attempt that just failed.
type RetryPolicy interface {
	Next(attempt int, err error) (delay time.Duration, retry bool)
}

// TimedTask is a unit of recurring work owned by the coordinator.
type TimedTask struct {
	ID       TaskID
	Name     string
	Schedule Schedule
	Work     Work
	Policy   RetryPolicy // nil means retry.Forever
	LastRun  *time.Time
	NextRun  *time.Time
}

// NewTimedTask builds a task with a fresh id and no run history.
func NewTimedTask(name string, s Schedule, w Work, p RetryPolicy) *TimedTask {
	return &TimedTask{ID: NewTaskID(), Name: name, Schedule: s, Work: w, Policy: p}
}

// Completion is posted by a worker slot once per assignment.
type Completion struct {
	Slot     int
	TaskID   TaskID
	Attempts int
	Err      error
}

func (c Completion) Succeeded() bool { return c.Err == nil }

// Run is the history record of one task firing.
type Run struct {
	ID         int64     `json:"id"`
	TaskID     TaskID    `json:"task_id"`
	Name       string    `json:"name"`
	Slot       int       `json:"slot"`
	Attempts   int       `json:"attempts"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
