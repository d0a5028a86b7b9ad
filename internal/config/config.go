package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultAddr      = ":8080"
	DefaultDB        = "tickflow.db"
	DefaultHeartbeat = 100 * time.Millisecond
)

// Config is the file format. YAML and JSON are both accepted.
//
// Durations are Go duration strings (e.g. "100ms", "5m").
type Config struct {
	Addr      string       `json:"addr,omitempty"`
	DB        string       `json:"db,omitempty"`
	Workers   int          `json:"workers,omitempty"`
	Heartbeat string       `json:"heartbeat,omitempty"`
	Log       LogConfig    `json:"log"`
	RateLimit RateConfig   `json:"rate_limit"`
	Tasks     []TaskConfig `json:"tasks"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`
	// File, when set, receives JSON log lines alongside the console.
	File string `json:"file,omitempty"`
}

// RateConfig bounds mutating API calls. Zero values fall back to 5/s, burst 10.
type RateConfig struct {
	PerSecond float64 `json:"per_second,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// TaskConfig defines one task. Exactly one of Every, At or Weekdays+Time
// selects the schedule.
type TaskConfig struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Every    string          `json:"every,omitempty"`
	At       string          `json:"at,omitempty"`
	Weekdays []string        `json:"weekdays,omitempty"`
	Time     string          `json:"time,omitempty"`
	Retry    *RetryConfig    `json:"retry,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
}

// RetryConfig overrides the default escalating policy for one task.
type RetryConfig struct {
	Delays      []string `json:"delays,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
	// Forever retries immediately until success.
	Forever bool `json:"forever,omitempty"`
}

func Default() *Config {
	return &Config{Addr: DefaultAddr, DB: DefaultDB}
}

// Load reads path and decodes it strictly. Unknown fields are errors.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse decodes data; the extension of path selects YAML or JSON.
func Parse(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structure only. Schedule fields are resolved later and
// degrade per task instead of failing the whole file.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers: must be >= 0, got %d", c.Workers)
	}
	if _, err := ParseDurationOrDefault("heartbeat", c.Heartbeat, DefaultHeartbeat); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("tasks[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(t.Type) == "" {
			return fmt.Errorf("tasks[%d] %q: type is required", i, name)
		}
		if t.Retry != nil {
			for j, d := range t.Retry.Delays {
				if _, err := ParseDurationField(fmt.Sprintf("tasks[%d].retry.delays[%d]", i, j), d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// HeartbeatInterval returns the configured heartbeat or the default.
func (c *Config) HeartbeatInterval() time.Duration {
	d, err := ParseDurationOrDefault("heartbeat", c.Heartbeat, DefaultHeartbeat)
	if err != nil {
		return DefaultHeartbeat
	}
	return d
}

// PoolSize returns the configured worker count or the number of CPUs.
func (c *Config) PoolSize() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
