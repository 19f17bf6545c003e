package streaming

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/airwave/internal/playback"
)

func newTestController(t *testing.T, stationID string) (*Controller, error) {
	t.Helper()
	return NewController(DefaultOptions(stationID, staticSource()), nil,
		func() playback.Player { return newFakePlayer() })
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	defer r.DisposeAll()

	created := 0
	create := func() (*Controller, error) {
		created++
		return newTestController(t, "jazz")
	}

	c1, err := r.GetOrCreate("jazz", create)
	require.NoError(t, err)
	c2, err := r.GetOrCreate("jazz", create)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, r.Len())

	// controllers come back initialized
	assert.NoError(t, c1.Play())
}

func TestRegistry_CreateError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	_, err := r.GetOrCreate("x", func() (*Controller, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := r.Get("x")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry()
	defer r.DisposeAll()

	var created atomic.Int32
	var wg sync.WaitGroup
	results := make([]*Controller, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.GetOrCreate("rock", func() (*Controller, error) {
				created.Add(1)
				return newTestController(t, "rock")
			})
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestRegistry_RemoveDisposes(t *testing.T) {
	r := NewRegistry()

	c, err := r.GetOrCreate("news", func() (*Controller, error) { return newTestController(t, "news") })
	require.NoError(t, err)

	assert.True(t, r.Remove("news"))
	assert.False(t, r.Remove("news"))
	assert.ErrorIs(t, c.Play(), ErrDisposed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ListAndDisposeAll(t *testing.T) {
	r := NewRegistry()

	var ctrls []*Controller
	for _, id := range []string{"c", "a", "b"} {
		id := id
		c, err := r.GetOrCreate(id, func() (*Controller, error) { return newTestController(t, id) })
		require.NoError(t, err, fmt.Sprintf("create %s", id))
		ctrls = append(ctrls, c)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].StationID())
	assert.Equal(t, "b", list[1].StationID())
	assert.Equal(t, "c", list[2].StationID())

	r.DisposeAll()
	assert.Equal(t, 0, r.Len())
	for _, c := range ctrls {
		assert.ErrorIs(t, c.Stop(), ErrDisposed)
	}
}
