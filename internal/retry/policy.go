package retry

import (
	"time"

	"tickflow/internal/domain"
)

// Backoff retries along a fixed sequence of delays. The delay for attempt n
// is Delays[n-1]; attempts beyond the sequence reuse its last entry.
// MaxAttempts counts every call of the work including the first; 0 means
// one attempt per delay plus the initial one.
type Backoff struct {
	Delays      []time.Duration
	MaxAttempts int
	// RetryIf filters which faults are retried. nil retries every fault.
	RetryIf func(error) bool
}

func (b Backoff) attempts() int {
	if b.MaxAttempts > 0 {
		return b.MaxAttempts
	}
	return len(b.Delays) + 1
}

func (b Backoff) Next(attempt int, err error) (time.Duration, bool) {
	if IsNoRetry(err) {
		return 0, false
	}
	if b.RetryIf != nil && !b.RetryIf(err) {
		return 0, false
	}
	if attempt >= b.attempts() {
		return 0, false
	}
	if len(b.Delays) == 0 {
		return 0, true
	}
	i := attempt - 1
	if i >= len(b.Delays) {
		i = len(b.Delays) - 1
	}
	if i < 0 {
		i = 0
	}
	return b.Delays[i], true
}

// Forever is the policy used when a task carries none.
//
// It retries every failure immediately and without limit, so a task that
// never succeeds keeps its worker slot until the process context is
// cancelled. A missing policy therefore does NOT mean "run once": callers
// wanting a single attempt must pass Backoff{MaxAttempts: 1}.
type Forever struct{}

func (Forever) Next(_ int, err error) (time.Duration, bool) {
	if IsNoRetry(err) {
		return 0, false
	}
	return 0, true
}

// Escalating is the default policy handed out by the task provider.
func Escalating() Backoff {
	return Backoff{Delays: []time.Duration{
		time.Second,
		5 * time.Second,
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		time.Hour,
	}}
}

var (
	_ domain.RetryPolicy = Backoff{}
	_ domain.RetryPolicy = Forever{}
)
