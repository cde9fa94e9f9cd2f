package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/alerts"
	"github.com/potooio/cdcwatch/internal/eventstore"
	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/testutil"
	"github.com/potooio/cdcwatch/internal/types"
)

type recordingTrigger struct {
	mu  sync.Mutex
	ids []types.ID
}

func (r *recordingTrigger) Trigger(id types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingTrigger) IDs() []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ID(nil), r.ids...)
}

type recordingStatuses struct {
	updates []types.PipelineStatusUpdate
}

func (r *recordingStatuses) ObserveStatus(u types.PipelineStatusUpdate) {
	r.updates = append(r.updates, u)
}

type routerFixture struct {
	router   *Router
	store    *eventstore.Store
	log      *alerts.Log
	trigger  *recordingTrigger
	statuses *recordingStatuses
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	store := eventstore.New(eventstore.DefaultOptions())
	log := alerts.NewLog(alerts.DefaultCapacity)
	corr := alerts.NewCorrelator(log, zap.NewNop(), alerts.DefaultCorrelatorOptions())
	trigger := &recordingTrigger{}
	statuses := &recordingStatuses{}
	r, err := NewRouter(RouterOptions{
		Events:    store,
		Alerts:    corr,
		Statuses:  statuses,
		Refresher: trigger,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return routerFixture{router: r, store: store, log: log, trigger: trigger, statuses: statuses}
}

func frame(t *testing.T, frameType string, data any) realtime.Frame {
	t.Helper()
	f, err := realtime.NewFrame(frameType, data)
	require.NoError(t, err)
	return f
}

func TestNewRouter_RequiresEventSink(t *testing.T) {
	_, err := NewRouter(RouterOptions{})
	assert.Error(t, err)
}

func TestRouter_ReplicationEvent(t *testing.T) {
	fx := newRouterFixture(t)
	e := testutil.NewEventBuilder("e1").WithPipeline("p1").WithStatus(types.EventStatusFailed).Build()

	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypeReplicationEvent, e))
	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypeReplicationEvent, e))

	assert.Equal(t, 1, fx.store.Len(), "redelivery is deduplicated")
	assert.Equal(t, 1, fx.log.Len(), "one alert per failed event")
	assert.Equal(t, 1, fx.log.UnreadCount())
	assert.Equal(t, []types.ID{"p1", "p1"}, fx.trigger.IDs())
}

func TestRouter_RefreshesSelectedPipeline(t *testing.T) {
	fx := newRouterFixture(t)
	fx.router.SetSelectedPipeline("p9")
	assert.Equal(t, types.ID("p9"), fx.router.SelectedPipeline())

	e := testutil.MakeEvent("e1", "p1", types.EventStatusSuccess)
	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypeReplicationEvent, e))

	assert.Equal(t, []types.ID{"p9"}, fx.trigger.IDs())
	assert.Equal(t, 0, fx.log.Len(), "successful events raise no alert")
}

func TestRouter_NumericIdentifiers(t *testing.T) {
	fx := newRouterFixture(t)
	raw := json.RawMessage(`{"id": 101, "pipeline_id": 7, "status": "error", "timestamp": "2026-03-14T09:26:53Z"}`)

	fx.router.HandleFrame(context.Background(), realtime.Frame{Type: realtime.TypeReplicationEvent, Data: raw})

	got, ok := fx.store.Event("101")
	require.True(t, ok)
	assert.Equal(t, types.ID("7"), got.PipelineID)
}

func TestRouter_MonitoringMetric(t *testing.T) {
	fx := newRouterFixture(t)
	m := types.Metric{PipelineID: "p1", Timestamp: testutil.BaseTime, LagSeconds: 1.5, Throughput: 200}

	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypeMonitoringMetric, m))
	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypeMonitoringMetric, m))

	assert.Equal(t, 2, fx.store.MetricsLen(), "metrics are never deduplicated")
	assert.Empty(t, fx.trigger.IDs())
}

func TestRouter_PipelineStatus(t *testing.T) {
	fx := newRouterFixture(t)
	u := types.PipelineStatusUpdate{PipelineID: "p1", Status: types.PipelineStatusPaused, Timestamp: testutil.BaseTime}

	fx.router.HandleFrame(context.Background(), frame(t, realtime.TypePipelineStatus, u))

	require.Len(t, fx.statuses.updates, 1)
	assert.Equal(t, types.PipelineStatusPaused, fx.statuses.updates[0].Status)
	assert.Equal(t, 0, fx.store.Len())
}

func TestRouter_DropsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name  string
		frame realtime.Frame
	}{
		{"no data", realtime.Frame{Type: realtime.TypeReplicationEvent}},
		{"not an object", realtime.Frame{Type: realtime.TypeReplicationEvent, Data: json.RawMessage(`"oops"`)}},
		{"missing id", realtime.Frame{Type: realtime.TypeReplicationEvent, Data: json.RawMessage(`{"pipeline_id": "p1", "status": "failed"}`)}},
		{"unknown status", realtime.Frame{Type: realtime.TypeReplicationEvent, Data: json.RawMessage(`{"id": "e1", "pipeline_id": "p1", "status": "exploded"}`)}},
		{"negative latency", realtime.Frame{Type: realtime.TypeReplicationEvent, Data: json.RawMessage(`{"id": "e1", "pipeline_id": "p1", "status": "failed", "latency_ms": -1}`)}},
		{"metric without pipeline", realtime.Frame{Type: realtime.TypeMonitoringMetric, Data: json.RawMessage(`{"lag_seconds": 1}`)}},
		{"status without status", realtime.Frame{Type: realtime.TypePipelineStatus, Data: json.RawMessage(`{"pipeline_id": "p1"}`)}},
		{"unknown type", realtime.Frame{Type: "heartbeat", Data: json.RawMessage(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newRouterFixture(t)
			assert.NotPanics(t, func() {
				fx.router.HandleFrame(context.Background(), tt.frame)
			})
			assert.Equal(t, 0, fx.store.Len())
			assert.Equal(t, 0, fx.store.MetricsLen())
			assert.Equal(t, 0, fx.log.Len())
			assert.Empty(t, fx.statuses.updates)
			assert.Empty(t, fx.trigger.IDs())
		})
	}
}

func TestRouter_OptionalCollaborators(t *testing.T) {
	store := eventstore.New(eventstore.DefaultOptions())
	r, err := NewRouter(RouterOptions{Events: store})
	require.NoError(t, err)

	e := testutil.MakeEvent("e1", "p1", types.EventStatusFailed)
	r.HandleFrame(context.Background(), frame(t, realtime.TypeReplicationEvent, e))
	r.HandleFrame(context.Background(), frame(t, realtime.TypePipelineStatus,
		types.PipelineStatusUpdate{PipelineID: "p1", Status: types.PipelineStatusRunning}))

	assert.Equal(t, 1, store.Len())
}
