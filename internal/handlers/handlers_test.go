package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	called := false
	r := Registry{"noop": HandlerFunc(func(context.Context, json.RawMessage) error {
		called = true
		return nil
	})}

	h, err := r.Lookup("noop")
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), nil))
	assert.True(t, called)

	_, err = r.Lookup("ftp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ftp"`)
	assert.Contains(t, err.Error(), "noop")
}
