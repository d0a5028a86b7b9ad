package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler executes one firing of a configured task from its JSON payload.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Registry maps task types ("shell", "http") to handlers.
type Registry map[string]Handler

func (r Registry) Lookup(typ string) (Handler, error) {
	h, ok := r[typ]
	if !ok || h == nil {
		return nil, fmt.Errorf("unknown task type %q (known: %v)", typ, r.Types())
	}
	return h, nil
}

func (r Registry) Types() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
