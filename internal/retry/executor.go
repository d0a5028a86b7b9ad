package retry

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/domain"
)

// Executor runs a single task firing under its retry policy and reports only
// the final result.
type Executor struct {
	log zerolog.Logger
}

func NewExecutor(log zerolog.Logger) *Executor {
	return &Executor{log: log}
}

// Run calls work until it succeeds or policy gives up. It returns the number
// of attempts made and, on terminal failure, the last fault. A nil policy
// means Forever. Cancelling ctx aborts a pending backoff wait.
func (e *Executor) Run(ctx context.Context, name string, work domain.Work, policy domain.RetryPolicy) (int, error) {
	if policy == nil {
		policy = Forever{}
	}
	if work == nil {
		return 0, NoRetry(fmt.Errorf("task %q has no work", name))
	}

	for attempt := 1; ; attempt++ {
		err := e.attempt(ctx, name, work)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		delay, again := policy.Next(attempt, err)
		if !again {
			return attempt, err
		}
		e.log.Debug().
			Str("task", name).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("task retry scheduled")

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return attempt, err
			case <-t.C:
			}
		}
	}
}

func (e *Executor) attempt(ctx context.Context, name string, work domain.Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error().Str("task", name).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("task panic")
		}
	}()
	return work(ctx)
}
