package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tickflow/internal/retry"
)

// maxOutput bounds how much combined output is quoted in an error.
const maxOutput = 2048

type Shell struct{}

type Cmd struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Dir     string            `json:"dir"`
	Env     map[string]string `json:"env"`
	Timeout string            `json:"timeout"` // Go duration, e.g. "30s"
}

func (h Shell) Handle(ctx context.Context, payload json.RawMessage) error {
	var c Cmd
	if err := json.Unmarshal(payload, &c); err != nil {
		return retry.NoRetry(fmt.Errorf("invalid shell payload: %w", err))
	}
	if c.Command == "" {
		return retry.NoRetry(errors.New("command is required"))
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return retry.NoRetry(fmt.Errorf("invalid timeout %q: %w", c.Timeout, err))
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return retry.NoRetry(fmt.Errorf("shell error: %w", err))
		}
		return fmt.Errorf("shell error: %w; out=%s", err, truncate(strings.TrimSpace(string(out))))
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "..."
}
