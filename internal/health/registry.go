package health

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks the last error reported by each component. A component
// with no entry is considered up.
type Registry struct {
	mu        sync.RWMutex
	startTime time.Time
	errs      map[string]entry
}

type entry struct {
	err   string
	since time.Time
}

type Status struct {
	Status    string        `json:"status"` // "UP" or "DOWN"
	Uptime    string        `json:"uptime"`
	Timestamp string        `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Since   string `json:"since,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now(), errs: make(map[string]entry)}
}

// Report records err for component. A nil err clears it.
func (r *Registry) Report(component string, err error) {
	if err == nil {
		r.Clear(component)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.errs[component]
	if !ok {
		e.since = time.Now()
	}
	e.err = err.Error()
	r.errs[component] = e
}

func (r *Registry) Clear(component string) {
	r.mu.Lock()
	delete(r.errs, component)
	r.mu.Unlock()
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.errs) == 0
}

// Snapshot lists failing components by name.
func (r *Registry) Snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Status{
		Status:    "UP",
		Uptime:    time.Since(r.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make([]CheckResult, 0, len(r.errs)),
	}
	for name, e := range r.errs {
		s.Checks = append(s.Checks, CheckResult{
			Name:    name,
			Status:  "DOWN",
			Message: e.err,
			Since:   e.since.Format(time.RFC3339),
		})
	}
	sort.Slice(s.Checks, func(i, j int) bool { return s.Checks[i].Name < s.Checks[j].Name })
	if len(s.Checks) > 0 {
		s.Status = "DOWN"
	}
	return s
}
