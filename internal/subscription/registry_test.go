package subscription

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantErr bool
	}{
		{name: "numeric_id", channel: "42"},
		{name: "uuid", channel: "3f2b8c1e-8a8e-4c55-9a41-0c9d3c2f7e10"},
		{name: "slug", channel: "orders-to-warehouse"},
		{name: "empty", channel: "", wantErr: true},
		{name: "whitespace", channel: "   ", wantErr: true},
		{name: "undefined", channel: "undefined", wantErr: true},
		{name: "null", channel: "null", wantErr: true},
		{name: "nan", channel: "NaN", wantErr: true},
		{name: "infinity", channel: "Infinity", wantErr: true},
		{name: "negative_infinity", channel: "-Infinity", wantErr: true},
		{name: "inf_short", channel: "+Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.channel)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidChannel))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add("p1"))
	assert.False(t, r.Add("p1"), "second add is a no-op")
	assert.False(t, r.Add("NaN"), "invalid ids are never registered")
	assert.True(t, r.Has("p1"))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("p1"))
	assert.False(t, r.Remove("p1"))
	assert.False(t, r.Has("p1"))
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Add("p3")
	r.Add("p1")
	r.Add("p2")
	assert.Equal(t, []string{"p1", "p2", "p3"}, r.List())
}

func TestRegistry_MarkEmittedOncePerEpoch(t *testing.T) {
	r := NewRegistry()
	r.Add("p1")

	assert.True(t, r.MarkEmitted("p1", 1))
	assert.False(t, r.MarkEmitted("p1", 1))
	assert.True(t, r.MarkEmitted("p1", 2), "a new connection epoch replays")
	assert.False(t, r.MarkEmitted("missing", 2))
	assert.False(t, r.MarkEmitted("p1", 1), "a stale epoch never emits")
}

func TestRegistry_Unmark(t *testing.T) {
	r := NewRegistry()
	r.Add("p1")
	require.True(t, r.MarkEmitted("p1", 1))

	r.Unmark("p1", 1)
	assert.True(t, r.MarkEmitted("p1", 1))

	// Unmark for a stale epoch leaves the newer marker alone.
	require.True(t, r.MarkEmitted("p1", 2))
	r.Unmark("p1", 1)
	assert.False(t, r.MarkEmitted("p1", 2))
}

func TestRegistry_MarkEmittedConcurrent(t *testing.T) {
	r := NewRegistry()
	r.Add("p1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.MarkEmitted("p1", 5) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRegistry_SurvivesRemoveReAdd(t *testing.T) {
	r := NewRegistry()
	r.Add("p1")
	r.MarkEmitted("p1", 3)
	r.Remove("p1")
	r.Add("p1")
	assert.True(t, r.MarkEmitted("p1", 3), "re-added channel must be emitted again")
}
