package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/domain"
	"tickflow/internal/retry"
)

// Job is what a slot needs to run one firing. It carries no scheduling state.
type Job struct {
	TaskID domain.TaskID
	Name   string
	Work   domain.Work
	Policy domain.RetryPolicy
}

// Recorder stores finished runs. Implementations must be safe for
// concurrent use; every slot calls it.
type Recorder interface {
	RecordRun(ctx context.Context, r domain.Run) error
}

// Pool is a fixed set of execution slots. A slot runs one job at a time and
// reports exactly one completion per job.
type Pool struct {
	exec  *retry.Executor
	rec   Recorder
	log   zerolog.Logger
	slots []chan Job
	wg    sync.WaitGroup
}

// DefaultSize is the number of CPUs usable by the process.
func DefaultSize() int { return runtime.NumCPU() }

func NewPool(size int, exec *retry.Executor, rec Recorder, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	slots := make([]chan Job, size)
	for i := range slots {
		slots[i] = make(chan Job, 1)
	}
	return &Pool{exec: exec, rec: rec, log: log, slots: slots}
}

func (p *Pool) Size() int { return len(p.slots) }

// Start launches one goroutine per slot. notify receives every completion; it
// is called from the slot goroutines.
func (p *Pool) Start(ctx context.Context, notify func(domain.Completion)) {
	for i, in := range p.slots {
		p.wg.Add(1)
		go p.slot(ctx, i, in, notify)
	}
}

// Dispatch hands job to slot. The caller must only target a free slot.
func (p *Pool) Dispatch(slot int, job Job) error {
	if slot < 0 || slot >= len(p.slots) {
		return fmt.Errorf("slot %d out of range [0,%d)", slot, len(p.slots))
	}
	select {
	case p.slots[slot] <- job:
		return nil
	default:
		return fmt.Errorf("slot %d is busy", slot)
	}
}

// Wait blocks until every slot goroutine has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) slot(ctx context.Context, idx int, in <-chan Job, notify func(domain.Completion)) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-in:
			notify(p.execute(ctx, idx, j))
		}
	}
}

func (p *Pool) execute(ctx context.Context, idx int, j Job) domain.Completion {
	started := time.Now()
	attempts, err := p.exec.Run(ctx, j.Name, j.Work, j.Policy)
	finished := time.Now()

	if p.rec != nil {
		run := domain.Run{
			TaskID:     j.TaskID,
			Name:       j.Name,
			Slot:       idx,
			Attempts:   attempts,
			Success:    err == nil,
			StartedAt:  started,
			FinishedAt: finished,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if rerr := p.rec.RecordRun(ctx, run); rerr != nil {
			p.log.Warn().Err(rerr).Str("task_id", string(j.TaskID)).Msg("failed to record run")
		}
	}

	return domain.Completion{Slot: idx, TaskID: j.TaskID, Attempts: attempts, Err: err}
}
