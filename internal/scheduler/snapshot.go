package scheduler

import (
	"time"

	"tickflow/internal/domain"
)

type TaskState string

const (
	StatePending  TaskState = "pending"
	StateRunning  TaskState = "running"
	StateOverflow TaskState = "overflow"
)

// TaskView is a read-only copy of a task's scheduling fields.
type TaskView struct {
	ID       domain.TaskID `json:"id"`
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	State    TaskState     `json:"state"`
	Slot     *int          `json:"slot,omitempty"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  *time.Time    `json:"next_run,omitempty"`
}

type Snapshot struct {
	Slots     int        `json:"slots"`
	FreeSlots int        `json:"free_slots"`
	Pending   []TaskView `json:"pending"`
	Running   []TaskView `json:"running"`
	Overflow  []TaskView `json:"overflow"`
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		Slots:    len(c.slots),
		Pending:  make([]TaskView, 0, len(c.pending)),
		Running:  make([]TaskView, 0, len(c.slots)),
		Overflow: make([]TaskView, 0, len(c.overflow)),
	}
	for _, t := range c.pending {
		s.Pending = append(s.Pending, view(t, StatePending))
	}
	for i, t := range c.slots {
		if t == nil {
			s.FreeSlots++
			continue
		}
		v := view(t, StateRunning)
		slot := i
		v.Slot = &slot
		s.Running = append(s.Running, v)
	}
	for _, t := range c.overflow {
		s.Overflow = append(s.Overflow, view(t, StateOverflow))
	}
	return s
}

func view(t *domain.TimedTask, st TaskState) TaskView {
	v := TaskView{ID: t.ID, Name: t.Name, State: st}
	if t.Schedule != nil {
		v.Schedule = t.Schedule.String()
	}
	if t.LastRun != nil {
		lr := *t.LastRun
		v.LastRun = &lr
	}
	if t.NextRun != nil {
		nr := *t.NextRun
		v.NextRun = &nr
	}
	return v
}
