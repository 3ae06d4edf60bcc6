package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConstructsOnceAndReusesAfter(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (any, error) {
		calls++
		return "client", nil
	}

	v1, err := r.Get("tabular", factory)
	require.NoError(t, err)
	v2, err := r.Get("tabular", factory)
	require.NoError(t, err)

	assert.Equal(t, "client", v1)
	assert.Equal(t, "client", v2)
	assert.Equal(t, 1, calls)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Reused)
}

func TestGetRetriesAfterFactoryError(t *testing.T) {
	r := NewRegistry()
	attempt := 0
	factory := func() (any, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("boom")
		}
		return "client", nil
	}

	_, err := r.Get("object", factory)
	assert.Error(t, err)

	v, err := r.Get("object", factory)
	require.NoError(t, err)
	assert.Equal(t, "client", v)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Created)
}

func TestEvictForcesReconstruction(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (any, error) {
		calls++
		return calls, nil
	}

	v1, _ := r.Get("scheduler", factory)
	r.Evict("scheduler")
	v2, _ := r.Get("scheduler", factory)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}
