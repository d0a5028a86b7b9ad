package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tickflow/internal/config"
	"tickflow/internal/domain"
)

var ErrUnknownDefinition = errors.New("unknown task definition")

// Scheduler is the coordinator as seen by the task set.
type Scheduler interface {
	AddTask(task *domain.TimedTask)
	RemoveTask(id domain.TaskID)
}

// Changes summarises one Apply call.
type Changes struct {
	Added    []string
	Replaced []string
	Removed  []string
}

func (c Changes) Empty() bool { return len(c.Added)+len(c.Replaced)+len(c.Removed) == 0 }

type entry struct {
	id          domain.TaskID
	fingerprint string
}

// Set keeps the coordinator in step with the configured task list.
type Set struct {
	sched Scheduler
	prov  *Provider
	log   zerolog.Logger

	mu      sync.Mutex
	configs map[string]config.TaskConfig
	active  map[string]entry
	adhoc   map[domain.TaskID]string
}

func NewSet(sched Scheduler, prov *Provider, log zerolog.Logger) *Set {
	return &Set{
		sched:   sched,
		prov:    prov,
		log:     log.With().Str("component", "tasks").Logger(),
		configs: make(map[string]config.TaskConfig),
		active:  make(map[string]entry),
		adhoc:   make(map[domain.TaskID]string),
	}
}

// Apply reconciles the scheduled tasks with cfgs. New definitions are added,
// missing or disabled ones removed, and changed ones removed and re-added
// under a new id. Unchanged tasks keep their id and schedule state.
func (s *Set) Apply(cfgs []config.TaskConfig) Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs = make(map[string]config.TaskConfig, len(cfgs))
	for _, tc := range cfgs {
		s.configs[tc.Name] = tc
	}
	wanted := make(map[string]Definition)
	for _, d := range s.prov.Definitions(cfgs) {
		wanted[d.Name] = d
	}

	var ch Changes
	replaced := make(map[string]bool)
	for name, e := range s.active {
		d, ok := wanted[name]
		if ok && d.fingerprint == e.fingerprint {
			continue
		}
		s.sched.RemoveTask(e.id)
		delete(s.active, name)
		if ok {
			replaced[name] = true
		} else {
			ch.Removed = append(ch.Removed, name)
		}
	}

	for name, d := range wanted {
		if _, ok := s.active[name]; ok {
			continue
		}
		t := d.Task()
		s.sched.AddTask(t)
		s.active[name] = entry{id: t.ID, fingerprint: d.fingerprint}
		if replaced[name] {
			ch.Replaced = append(ch.Replaced, name)
		} else {
			ch.Added = append(ch.Added, name)
		}
	}

	sort.Strings(ch.Added)
	sort.Strings(ch.Replaced)
	sort.Strings(ch.Removed)
	if !ch.Empty() {
		s.log.Info().
			Strs("added", ch.Added).
			Strs("replaced", ch.Replaced).
			Strs("removed", ch.Removed).
			Msg("task set updated")
	}
	return ch
}

// Launch schedules an extra instance of the named definition with the
// schedule fields of sched. Launched tasks are not touched by Apply.
func (s *Set) Launch(name string, sched config.TaskConfig) (*domain.TimedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}
	tc.Every, tc.At, tc.Weekdays, tc.Time = sched.Every, sched.At, sched.Weekdays, sched.Time
	if sched.Retry != nil {
		tc.Retry = sched.Retry
	}
	d, err := s.prov.Definition(tc)
	if err != nil {
		return nil, err
	}
	t := d.Task()
	s.sched.AddTask(t)
	s.adhoc[t.ID] = name
	s.log.Info().Str("task_id", string(t.ID)).Str("task", name).Stringer("schedule", t.Schedule).Msg("task launched")
	return t, nil
}

// Remove unschedules id, whether it came from config or Launch.
func (s *Set) Remove(id domain.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.adhoc, id)
	for name, e := range s.active {
		if e.id == id {
			delete(s.active, name)
		}
	}
	s.sched.RemoveTask(id)
}

// Names lists the configured definitions.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.configs))
	for name := range s.configs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
