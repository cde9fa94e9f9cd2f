package pipelines

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potooio/cdcwatch/internal/testutil"
	"github.com/potooio/cdcwatch/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: testutil.BaseTime}
	opts := DefaultOptions()
	opts.Now = clock.Now
	return NewTracker(opts), clock
}

func TestExpectedStatus(t *testing.T) {
	tests := []struct {
		action Action
		want   types.PipelineStatus
		ok     bool
	}{
		{ActionStart, types.PipelineStatusActive, true},
		{ActionResume, types.PipelineStatusActive, true},
		{ActionPause, types.PipelineStatusPaused, true},
		{ActionStop, types.PipelineStatusStopped, true},
		{Action("explode"), "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, ok := ExpectedStatus(tt.action)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTracker_Confirmed(t *testing.T) {
	tr, _ := newTestTracker()
	tr.ObserveBackend("p1", types.PipelineStatusStopped)
	require.True(t, tr.ApplyAction("p1", ActionStart))

	status, provisional := tr.Status("p1")
	assert.Equal(t, types.PipelineStatusActive, status)
	assert.True(t, provisional)

	assert.Equal(t, ResolutionConfirmed, tr.ObserveBackend("p1", types.PipelineStatusActive))
	status, provisional = tr.Status("p1")
	assert.Equal(t, types.PipelineStatusActive, status)
	assert.False(t, provisional)
	assert.Empty(t, tr.Provisionals())
}

func TestTracker_BackendWinsAfterMaxReconciliations(t *testing.T) {
	tr, _ := newTestTracker()
	tr.SetProvisional("p1", types.PipelineStatusActive)

	assert.Equal(t, ResolutionPending, tr.ObserveBackend("p1", types.PipelineStatusStarting))
	status, provisional := tr.Status("p1")
	assert.Equal(t, types.PipelineStatusActive, status)
	assert.True(t, provisional)
	require.Len(t, tr.Provisionals(), 1)
	assert.Equal(t, 1, tr.Provisionals()[0].Disagreements)
	assert.Equal(t, types.PipelineStatusStarting, tr.Provisionals()[0].LastBackendSeen)

	assert.Equal(t, ResolutionOverridden, tr.ObserveBackend("p1", types.PipelineStatusError))
	status, provisional = tr.Status("p1")
	assert.Equal(t, types.PipelineStatusError, status)
	assert.False(t, provisional)
}

func TestTracker_BackendWinsAfterWindow(t *testing.T) {
	tr, clock := newTestTracker()
	tr.ObserveBackend("p1", types.PipelineStatusPaused)
	tr.SetProvisional("p1", types.PipelineStatusActive)

	clock.Advance(9 * time.Second)
	status, provisional := tr.Status("p1")
	assert.Equal(t, types.PipelineStatusActive, status)
	assert.True(t, provisional)

	clock.Advance(time.Second)
	status, provisional = tr.Status("p1")
	assert.Equal(t, types.PipelineStatusPaused, status)
	assert.False(t, provisional)
}

func TestTracker_ObserveAfterWindowIsExpired(t *testing.T) {
	tr, clock := newTestTracker()
	tr.SetProvisional("p1", types.PipelineStatusActive)
	clock.Advance(time.Minute)

	assert.Equal(t, ResolutionExpired, tr.ObserveBackend("p1", types.PipelineStatusStopped))
	assert.Equal(t, ResolutionNone, tr.ObserveBackend("p1", types.PipelineStatusStopped))
}

func TestTracker_SetProvisionalMatchingBackendIsNoop(t *testing.T) {
	tr, _ := newTestTracker()
	tr.ObserveBackend("p1", types.PipelineStatusActive)
	tr.SetProvisional("p1", types.PipelineStatusActive)
	tr.SetProvisional("", types.PipelineStatusActive)
	assert.False(t, tr.ApplyAction("p1", Action("explode")))

	assert.Empty(t, tr.Provisionals())
}

func TestTracker_NewActionRestartsWindow(t *testing.T) {
	tr, clock := newTestTracker()
	tr.SetProvisional("p1", types.PipelineStatusActive)
	tr.ObserveBackend("p1", types.PipelineStatusStarting)
	clock.Advance(8 * time.Second)

	tr.ApplyAction("p1", ActionPause)
	clock.Advance(8 * time.Second)

	ps := tr.Provisionals()
	require.Len(t, ps, 1)
	assert.Equal(t, types.PipelineStatusPaused, ps[0].Expected)
	assert.Equal(t, 0, ps[0].Disagreements)
}

func TestTracker_Expire(t *testing.T) {
	tr, clock := newTestTracker()
	tr.SetProvisional("p1", types.PipelineStatusActive)
	clock.Advance(5 * time.Second)
	tr.SetProvisional("p2", types.PipelineStatusPaused)
	clock.Advance(5 * time.Second)

	assert.Equal(t, 1, tr.Expire())
	ps := tr.Provisionals()
	require.Len(t, ps, 1)
	assert.Equal(t, types.ID("p2"), ps[0].PipelineID)
}

func TestTracker_ObserveStatusAndPipelines(t *testing.T) {
	tr, _ := newTestTracker()
	tr.SetProvisional("p1", types.PipelineStatusPaused)
	tr.SetProvisional("p2", types.PipelineStatusActive)

	tr.ObserveStatus(types.PipelineStatusUpdate{PipelineID: "p1", Status: types.PipelineStatusPaused})
	tr.ObservePipelines([]types.Pipeline{
		testutil.MakePipeline("p2", types.PipelineStatusActive),
		testutil.MakePipeline("p3", types.PipelineStatusError),
	})

	assert.Empty(t, tr.Provisionals())
	status, _ := tr.Status("p3")
	assert.Equal(t, types.PipelineStatusError, status)
}
