package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/domain"
	"tickflow/internal/schedule"
	"tickflow/internal/worker"
)

// DefaultHeartbeat is the interval between due-task selections.
const DefaultHeartbeat = 100 * time.Millisecond

var ErrStopped = errors.New("coordinator stopped")

// Dispatcher is the worker pool as seen by the coordinator.
type Dispatcher interface {
	Size() int
	Start(ctx context.Context, notify func(domain.Completion))
	Dispatch(slot int, job worker.Job) error
}

// FailureReporter receives terminal task failures keyed by component name.
type FailureReporter interface {
	Report(component string, err error)
	Clear(component string)
}

type Options struct {
	Heartbeat time.Duration
	InboxSize int
	Now       func() time.Time
	Log       *zerolog.Logger
	Health    FailureReporter
}

// Coordinator owns all scheduling state. Every read and write of that state
// happens on the goroutine running Run, one message at a time.
type Coordinator struct {
	pool     Dispatcher
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
	health   FailureReporter

	inbox    chan message
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	// loop-owned
	pending  []*domain.TimedTask
	slots    []*domain.TimedTask // nil entry = free slot
	overflow []*domain.TimedTask
	removed  map[domain.TaskID]struct{}
}

func New(pool Dispatcher, opts Options) *Coordinator {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lg := log.Logger
	if opts.Log != nil {
		lg = *opts.Log
	}
	return &Coordinator{
		pool:     pool,
		interval: opts.Heartbeat,
		now:      opts.Now,
		log:      lg.With().Str("component", "coordinator").Logger(),
		health:   opts.Health,
		inbox:    make(chan message, opts.InboxSize),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		slots:    make([]*domain.TimedTask, pool.Size()),
		removed:  make(map[domain.TaskID]struct{}),
	}
}

// Run starts the worker pool and the heartbeat timer, then processes messages
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	start := c.now()
	c.pool.Start(ctx, c.complete)
	go c.beat(ctx, start)

	c.log.Info().Dur("interval", c.interval).Int("slots", len(c.slots)).Msg("coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("coordinator stopped")
			return ctx.Err()
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

// Dispose stops the heartbeat timer. Running work and queued tasks are left
// as they are.
func (c *Coordinator) Dispose() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// AddTask schedules task. It returns once the request is queued.
func (c *Coordinator) AddTask(task *domain.TimedTask) { c.post(addTask{task: task}) }

// RemoveTask unschedules id. A running firing is not interrupted but the task
// is not re-admitted afterwards. Unknown ids are ignored.
func (c *Coordinator) RemoveTask(id domain.TaskID) { c.post(removeTask{id: id}) }

// Heartbeat asks the coordinator to dispatch tasks due in [from, until].
func (c *Coordinator) Heartbeat(from, until time.Time) { c.post(heartbeat{from: from, until: until}) }

// Snapshot returns a copy of the scheduling state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	req := snapshotRequest{reply: make(chan Snapshot, 1)}
	select {
	case c.inbox <- req:
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) complete(comp domain.Completion) { c.post(taskCompleted{comp}) }

func (c *Coordinator) post(m message) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Coordinator) beat(ctx context.Context, from time.Time) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			c.log.Info().Msg("heartbeat stopped")
			return
		case <-t.C:
			until := c.now()
			c.Heartbeat(from, until)
			from = until
		}
	}
}

func (c *Coordinator) handle(m message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Str("message", fmt.Sprintf("%T", m)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("coordinator recovered from panic")
		}
	}()

	switch m := m.(type) {
	case addTask:
		c.onAdd(m.task)
	case removeTask:
		c.onRemove(m.id)
	case heartbeat:
		c.onHeartbeat(m.from, m.until)
	case taskCompleted:
		c.onCompleted(m.Completion)
	case snapshotRequest:
		m.reply <- c.snapshot()
	}
}

func (c *Coordinator) onAdd(t *domain.TimedTask) {
	if t == nil {
		return
	}
	if c.admit(t) {
		c.log.Debug().Str("task_id", string(t.ID)).Str("task", t.Name).Time("next_run", *t.NextRun).Msg("task added")
	} else {
		c.log.Warn().Str("task_id", string(t.ID)).Str("task", t.Name).Stringer("schedule", t.Schedule).Msg("task has no upcoming run; not scheduled")
	}
}

// admit computes the next run of t and puts it in pending. A next run that is
// already behind the clock is moved up to now so the following heartbeat
// window contains it.
func (c *Coordinator) admit(t *domain.TimedTask) bool {
	now := c.now()
	next, ok := schedule.ComputeNext(t, now)
	if !ok {
		t.NextRun = nil
		return false
	}
	if next.Before(now) {
		next = now
	}
	t.NextRun = &next
	c.pending = append(c.pending, t)
	return true
}

func (c *Coordinator) onRemove(id domain.TaskID) {
	c.pending = without(c.pending, id)
	c.overflow = without(c.overflow, id)
	for _, t := range c.slots {
		if t != nil && t.ID == id {
			c.removed[id] = struct{}{}
		}
	}
}

func without(ts []*domain.TimedTask, id domain.TaskID) []*domain.TimedTask {
	out := ts[:0]
	for _, t := range ts {
		if t.ID != id {
			out = append(out, t)
		}
	}
	for i := len(out); i < len(ts); i++ {
		ts[i] = nil
	}
	return out
}

// selectDue returns the pending tasks whose next run falls in [from, until],
// in pending order.
func (c *Coordinator) selectDue(from, until time.Time) []*domain.TimedTask {
	var due []*domain.TimedTask
	for _, t := range c.pending {
		if t.NextRun == nil {
			continue
		}
		if !t.NextRun.Before(from) && !t.NextRun.After(until) {
			due = append(due, t)
		}
	}
	return due
}

func (c *Coordinator) onHeartbeat(from, until time.Time) {
	c.drainOverflow()

	due := c.selectDue(from, until)
	if len(due) == 0 {
		return
	}
	picked := make(map[*domain.TimedTask]bool, len(due))
	for _, t := range due {
		picked[t] = true
	}
	rest := make([]*domain.TimedTask, 0, len(c.pending)-len(due))
	for _, t := range c.pending {
		if !picked[t] {
			rest = append(rest, t)
		}
	}
	c.pending = rest

	queued := 0
	for _, t := range due {
		if slot, ok := c.freeSlot(); ok {
			c.assign(slot, t)
			continue
		}
		c.overflow = append(c.overflow, t)
		queued++
	}
	if queued > 0 {
		c.log.Debug().Int("due", len(due)).Int("overflowed", queued).Int("overflow_len", len(c.overflow)).Msg("worker slots exhausted")
	}
}

// drainOverflow moves queued tasks onto free slots, oldest first. Normally a
// completion does this; a refused dispatch can leave slots free with work
// still queued.
func (c *Coordinator) drainOverflow() {
	if len(c.overflow) == 0 {
		return
	}
	queued := c.overflow
	c.overflow = nil
	for i, t := range queued {
		slot, ok := c.freeSlot()
		if !ok {
			c.overflow = append(c.overflow, queued[i:]...)
			return
		}
		c.assign(slot, t)
	}
}

func (c *Coordinator) freeSlot() (int, bool) {
	for i, t := range c.slots {
		if t == nil {
			return i, true
		}
	}
	return 0, false
}

func (c *Coordinator) assign(slot int, t *domain.TimedTask) {
	err := c.pool.Dispatch(slot, worker.Job{TaskID: t.ID, Name: t.Name, Work: t.Work, Policy: t.Policy})
	if err != nil {
		c.overflow = append(c.overflow, t)
		c.log.Error().Err(err).Int("slot", slot).Str("task_id", string(t.ID)).Msg("dispatch failed; task queued")
		return
	}
	c.slots[slot] = t
	c.log.Debug().Int("slot", slot).Str("task_id", string(t.ID)).Str("task", t.Name).Msg("task dispatched")
}

func (c *Coordinator) onCompleted(comp domain.Completion) {
	if comp.Slot < 0 || comp.Slot >= len(c.slots) {
		c.log.Error().Int("slot", comp.Slot).Str("task_id", string(comp.TaskID)).Msg("completion for unknown slot")
		return
	}
	t := c.slots[comp.Slot]
	if t == nil || t.ID != comp.TaskID {
		c.log.Error().Int("slot", comp.Slot).Str("task_id", string(comp.TaskID)).Msg("completion does not match slot assignment")
		return
	}
	c.slots[comp.Slot] = nil

	_, removed := c.removed[t.ID]
	delete(c.removed, t.ID)

	if comp.Err == nil {
		c.onSuccess(t, removed)
	} else {
		c.onFailure(t, comp)
	}

	if len(c.overflow) > 0 {
		next := c.overflow[0]
		c.overflow[0] = nil
		c.overflow = c.overflow[1:]
		c.assign(comp.Slot, next)
	}
}

func (c *Coordinator) onSuccess(t *domain.TimedTask, removed bool) {
	if t.NextRun != nil {
		ran := *t.NextRun
		t.LastRun = &ran
	}
	if c.health != nil {
		c.health.Clear(component(t))
	}
	if removed {
		t.NextRun = nil
		c.log.Debug().Str("task_id", string(t.ID)).Str("task", t.Name).Msg("removed task finished; not re-admitted")
		return
	}
	if !c.admit(t) {
		c.log.Info().Str("task_id", string(t.ID)).Str("task", t.Name).Msg("task retired after final run")
	}
}

// onFailure retires t for good. Transient faults never get here; the retry
// executor has already given up on this one.
func (c *Coordinator) onFailure(t *domain.TimedTask, comp domain.Completion) {
	t.NextRun = nil
	c.log.Error().
		Err(comp.Err).
		Str("task_id", string(t.ID)).
		Str("task", t.Name).
		Int("attempts", comp.Attempts).
		Msg("task failed; retired from schedule")
	if c.health != nil {
		c.health.Report(component(t), comp.Err)
	}
}

func component(t *domain.TimedTask) string { return "task/" + t.Name }
