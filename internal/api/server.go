package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tickflow/internal/config"
	"tickflow/internal/domain"
	"tickflow/internal/health"
	"tickflow/internal/scheduler"
	"tickflow/internal/tasks"
)

const (
	defaultRatePerSecond = 5
	defaultRateBurst     = 10
	maxRunsLimit         = 1000
)

type Coordinator interface {
	Snapshot(ctx context.Context) (scheduler.Snapshot, error)
}

type TaskSet interface {
	Launch(name string, sched config.TaskConfig) (*domain.TimedTask, error)
	Remove(id domain.TaskID)
	Names() []string
}

type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	ListTaskRuns(ctx context.Context, id domain.TaskID, limit int) ([]domain.Run, error)
}

type HealthSource interface {
	Healthy() bool
	Snapshot() health.Status
}

type Deps struct {
	Coordinator Coordinator
	Tasks       TaskSet
	Runs        RunStore
	Health      HealthSource
	RateLimit   config.RateConfig
	Debug       bool
	Log         zerolog.Logger
}

type Server struct {
	r       *chi.Mux
	deps    Deps
	limiter *rate.Limiter
}

func NewServer(deps Deps) http.Handler {
	rps, burst := deps.RateLimit.PerSecond, deps.RateLimit.Burst
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}

	r := chi.NewRouter()
	s := &Server{r: r, deps: deps, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLog, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/definitions", s.listDefinitions)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}/runs", s.taskRuns)
		r.Get("/runs", s.listRuns)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/tasks", s.launchTask)
			r.Delete("/tasks/{id}", s.removeTask)
		})
	})

	if deps.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.deps.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Health.Snapshot()
	code := http.StatusOK
	if st.Status != "UP" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Coordinator.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	healthy := 0
	if s.deps.Health.Healthy() {
		healthy = 1
	}
	failing := len(s.deps.Health.Snapshot().Checks)

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "tickflow_up 1\n")
	fmt.Fprintf(w, "tickflow_slots %d\n", snap.Slots)
	fmt.Fprintf(w, "tickflow_slots_busy %d\n", snap.Slots-snap.FreeSlots)
	fmt.Fprintf(w, "tickflow_tasks{state=%q} %d\n", scheduler.StatePending, len(snap.Pending))
	fmt.Fprintf(w, "tickflow_tasks{state=%q} %d\n", scheduler.StateRunning, len(snap.Running))
	fmt.Fprintf(w, "tickflow_tasks{state=%q} %d\n", scheduler.StateOverflow, len(snap.Overflow))
	fmt.Fprintf(w, "tickflow_healthy %d\n", healthy)
	fmt.Fprintf(w, "tickflow_failing_components %d\n", failing)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tasks.Names())
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Coordinator.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type launchReq struct {
	Definition string              `json:"definition"`
	Every      string              `json:"every"`
	At         string              `json:"at"`
	Weekdays   []string            `json:"weekdays"`
	Time       string              `json:"time"`
	Retry      *config.RetryConfig `json:"retry"`
}

type launchResp struct {
	ID       domain.TaskID `json:"id"`
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
}

func (s *Server) launchTask(w http.ResponseWriter, r *http.Request) {
	var req launchReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Definition == "" {
		http.Error(w, "definition is required", http.StatusBadRequest)
		return
	}

	t, err := s.deps.Tasks.Launch(req.Definition, config.TaskConfig{
		Every:    req.Every,
		At:       req.At,
		Weekdays: req.Weekdays,
		Time:     req.Time,
		Retry:    req.Retry,
	})
	switch {
	case errors.Is(err, tasks.ErrUnknownDefinition):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, launchResp{ID: t.ID, Name: t.Name, Schedule: t.Schedule.String()})
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	id := domain.TaskID(chi.URLParam(r, "id"))
	s.deps.Tasks.Remove(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) taskRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.deps.Runs.ListTaskRuns(r.Context(), domain.TaskID(chi.URLParam(r, "id")), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxRunsLimit), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
