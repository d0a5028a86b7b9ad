package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(calls *int32, failTimes int32) func(context.Context) error {
	return func(context.Context) error {
		if atomic.AddInt32(calls, 1) <= failTimes {
			return errBoom
		}
		return nil
	}
}

func TestRunSucceedsFirstTime(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	n, err := ex.Run(context.Background(), "ok", failing(&calls, 0), Backoff{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, calls)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	p := Backoff{Delays: []time.Duration{time.Millisecond, 2 * time.Millisecond}}
	n, err := ex.Run(context.Background(), "flaky", failing(&calls, 2), p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, calls)
}

func TestRunExhaustsPolicy(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	p := Backoff{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 4}
	n, err := ex.Run(context.Background(), "broken", failing(&calls, 1000), p)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 4, calls)
}

func TestRunNilPolicyRetriesForever(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	n, err := ex.Run(context.Background(), "stubborn", failing(&calls, 50), nil)
	require.NoError(t, err)
	assert.Equal(t, 51, n)
}

func TestRunNoRetryStopsImmediately(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	work := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return NoRetry(errBoom)
	}
	_, err := ex.Run(context.Background(), "permanent", work, nil)
	require.ErrorIs(t, err, errBoom)
	assert.True(t, IsNoRetry(err))
	assert.EqualValues(t, 1, calls)
}

func TestRunRetryIfFilter(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	p := Backoff{MaxAttempts: 5, RetryIf: func(err error) bool { return !errors.Is(err, errBoom) }}
	_, err := ex.Run(context.Background(), "filtered", failing(&calls, 10), p)
	require.ErrorIs(t, err, errBoom)
	assert.EqualValues(t, 1, calls)
}

func TestRunRecoversPanic(t *testing.T) {
	ex := NewExecutor(zerolog.Nop())
	work := func(context.Context) error { panic("kaboom") }
	n, err := ex.Run(context.Background(), "panicky", work, Backoff{MaxAttempts: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 2, n)
}

func TestRunCancelAbortsBackoff(t *testing.T) {
	var calls int32
	ex := NewExecutor(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	p := Backoff{Delays: []time.Duration{time.Hour}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := ex.Run(ctx, "slow", failing(&calls, 10), p)
	require.ErrorIs(t, err, errBoom)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, calls)
}

func TestBackoffDelays(t *testing.T) {
	p := Escalating()
	d, ok := p.Next(1, errBoom)
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
	d, ok = p.Next(6, errBoom)
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)
	_, ok = p.Next(7, errBoom)
	assert.False(t, ok)
}
