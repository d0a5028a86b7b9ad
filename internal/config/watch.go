package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher reloads a config file whenever it changes on disk and hands every
// successfully parsed, changed config to OnChange.
type Watcher struct {
	Path     string
	Debounce time.Duration
	Log      zerolog.Logger
	OnChange func(*Config)

	mu       sync.Mutex
	timer    *time.Timer
	lastHash uint64
}

func NewWatcher(path string, initial *Config, log zerolog.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		Path:     path,
		Debounce: defaultDebounce,
		Log:      log.With().Str("component", "config").Str("path", path).Logger(),
		OnChange: onChange,
		lastHash: hashConfig(initial),
	}
}

// Run watches the directory holding Path until ctx is done. A broken
// fsnotify watcher is recreated with jittered backoff.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.Path)
	file := filepath.Base(w.Path)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	defer w.stopTimer()

	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.Log.Warn().Err(err).Msg("config watch init failed")
			if !wait() {
				return nil
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.Log.Warn().Err(err).Str("dir", dir).Msg("config watch add failed")
			if !wait() {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		w.Log.Debug().Str("dir", dir).Msg("config watcher started")
		w.loop(ctx, fw, file)
		_ = fw.Close()

		if ctx.Err() != nil {
			return nil
		}
		w.Log.Warn().Msg("config watcher stopped; restarting")
		if !wait() {
			return nil
		}
	}
	return nil
}

// loop returns when ctx is done or the watcher breaks.
func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, file string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				w.Log.Warn().Err(err).Msg("config watch overflow; forcing reload")
				w.schedule(ctx)
				continue
			}
			w.Log.Warn().Err(err).Msg("config watch error")
		}
	}
}

// schedule debounces editors that write a file in several steps.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	d := w.Debounce
	if d <= 0 {
		d = defaultDebounce
	}
	w.timer = time.AfterFunc(d, func() {
		if ctx.Err() == nil {
			w.reload()
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.Path)
	if err != nil {
		w.Log.Warn().Err(err).Msg("config reload failed; keeping previous config")
		return
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	if !unchanged {
		w.lastHash = h
	}
	w.mu.Unlock()
	if unchanged {
		w.Log.Debug().Msg("config unchanged; skipping reload")
		return
	}

	w.Log.Info().Int("tasks", len(cfg.Tasks)).Msg("config reloaded")
	if w.OnChange != nil {
		w.OnChange(cfg)
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
