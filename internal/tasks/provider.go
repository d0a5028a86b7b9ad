package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/config"
	"tickflow/internal/domain"
	"tickflow/internal/handlers"
	"tickflow/internal/retry"
	"tickflow/internal/schedule"
)

// Definition is a named task ready to be scheduled.
type Definition struct {
	Name     string
	Type     string
	Schedule domain.Schedule
	Policy   domain.RetryPolicy
	Run      domain.Work

	fingerprint string
}

// Task builds a fresh TimedTask from d. Each call gets a new id.
func (d Definition) Task() *domain.TimedTask {
	return domain.NewTimedTask(d.Name, d.Schedule, d.Run, d.Policy)
}

// Provider turns task configs into definitions using a handler registry.
type Provider struct {
	handlers handlers.Registry
	log      zerolog.Logger
}

func NewProvider(reg handlers.Registry, log zerolog.Logger) *Provider {
	return &Provider{handlers: reg, log: log.With().Str("component", "tasks").Logger()}
}

// Definition resolves tc. Malformed weekdays or time of day degrade to an
// empty weekday list or midnight; every other problem is an error.
func (p *Provider) Definition(tc config.TaskConfig) (Definition, error) {
	h, err := p.handlers.Lookup(tc.Type)
	if err != nil {
		return Definition{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}
	sched, err := p.resolveSchedule(tc)
	if err != nil {
		return Definition{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}
	policy, err := resolvePolicy(tc.Retry)
	if err != nil {
		return Definition{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}

	payload := tc.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Definition{
		Name:     tc.Name,
		Type:     tc.Type,
		Schedule: sched,
		Policy:   policy,
		Run: func(ctx context.Context) error {
			return h.Handle(ctx, payload)
		},
		fingerprint: fingerprint(tc),
	}, nil
}

// Definitions resolves every enabled task. Tasks that fail to resolve are
// logged and left out.
func (p *Provider) Definitions(cfgs []config.TaskConfig) []Definition {
	out := make([]Definition, 0, len(cfgs))
	for _, tc := range cfgs {
		if tc.Disabled {
			continue
		}
		d, err := p.Definition(tc)
		if err != nil {
			p.log.Error().Err(err).Str("task", tc.Name).Msg("task definition skipped")
			continue
		}
		out = append(out, d)
	}
	return out
}

func (p *Provider) resolveSchedule(tc config.TaskConfig) (domain.Schedule, error) {
	hasEach := len(tc.Weekdays) > 0 || strings.TrimSpace(tc.Time) != ""
	set := 0
	for _, b := range []bool{tc.Every != "", tc.At != "", hasEach} {
		if b {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, errors.New("no schedule: set one of every, at, weekdays/time")
	case set > 1:
		return nil, errors.New("ambiguous schedule: set only one of every, at, weekdays/time")
	}

	switch {
	case tc.Every != "":
		d, err := time.ParseDuration(strings.TrimSpace(tc.Every))
		if err != nil {
			return nil, fmt.Errorf("every: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("every: interval must be > 0, got %s", d)
		}
		return domain.Every{Interval: d}, nil
	case tc.At != "":
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(tc.At))
		if err != nil {
			return nil, fmt.Errorf("at: %w", err)
		}
		return domain.Once{At: at}, nil
	}

	var days []time.Weekday
	if len(tc.Weekdays) == 0 {
		days = allWeekdays()
	} else {
		var err error
		days, err = schedule.ParseWeekdays(tc.Weekdays)
		if err != nil {
			p.log.Warn().Err(err).Str("task", tc.Name).Msg("weekdays unreadable; task will not fire until fixed")
		}
	}
	tod := time.Duration(0)
	if strings.TrimSpace(tc.Time) != "" {
		var err error
		tod, err = schedule.ParseTimeOfDay(tc.Time)
		if err != nil {
			p.log.Warn().Err(err).Str("task", tc.Name).Msg("time of day unreadable; using midnight")
		}
	}
	return domain.Each{Weekdays: days, TimeOfDay: tod}, nil
}

func resolvePolicy(rc *config.RetryConfig) (domain.RetryPolicy, error) {
	if rc == nil {
		return retry.Escalating(), nil
	}
	if rc.Forever {
		return retry.Forever{}, nil
	}
	b := retry.Backoff{MaxAttempts: rc.MaxAttempts}
	for i, raw := range rc.Delays {
		d, err := config.ParseDurationField(fmt.Sprintf("retry.delays[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		b.Delays = append(b.Delays, d)
	}
	if len(b.Delays) == 0 && b.MaxAttempts == 0 {
		return retry.Escalating(), nil
	}
	return b, nil
}

func allWeekdays() []time.Weekday {
	out := make([]time.Weekday, 7)
	for i := range out {
		out[i] = time.Weekday(i)
	}
	return out
}

func fingerprint(tc config.TaskConfig) string {
	b, err := json.Marshal(tc)
	if err != nil {
		return ""
	}
	return string(b)
}
