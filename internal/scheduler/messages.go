package scheduler

import (
	"time"

	"tickflow/internal/domain"
)

// message is everything the coordinator loop consumes.
type message interface{ isMessage() }

type addTask struct{ task *domain.TimedTask }

type removeTask struct{ id domain.TaskID }

// heartbeat selects tasks due in [from, until], both ends inclusive.
type heartbeat struct{ from, until time.Time }

type taskCompleted struct{ domain.Completion }

type snapshotRequest struct{ reply chan Snapshot }

func (addTask) isMessage()         {}
func (removeTask) isMessage()      {}
func (heartbeat) isMessage()       {}
func (taskCompleted) isMessage()   {}
func (snapshotRequest) isMessage() {}
