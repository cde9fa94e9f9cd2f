package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/alerts"
	"github.com/potooio/cdcwatch/internal/eventstore"
	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/pipelines"
	"github.com/potooio/cdcwatch/internal/poller"
	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/subscription"
	"github.com/potooio/cdcwatch/internal/surfacing"
	"github.com/potooio/cdcwatch/internal/testutil"
	"github.com/potooio/cdcwatch/internal/types"
)

type fakeConnection struct {
	reg          *subscription.Registry
	subscribeErr error

	mu      sync.Mutex
	retries int
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{reg: subscription.NewRegistry()}
}

func (f *fakeConnection) Stats() realtime.ClientStats {
	return realtime.ClientStats{
		State:          realtime.StateConnected,
		Reconnects:     2,
		FramesReceived: 10,
		FramesDropped:  1,
		Subscriptions:  f.reg.Len(),
	}
}

func (f *fakeConnection) Subscriptions() *subscription.Registry { return f.reg }

func (f *fakeConnection) Subscribe(id string) error {
	if err := subscription.Validate(id); err != nil {
		return err
	}
	f.reg.Add(id)
	return f.subscribeErr
}

func (f *fakeConnection) Unsubscribe(id string) error {
	if err := subscription.Validate(id); err != nil {
		return err
	}
	f.reg.Remove(id)
	return nil
}

func (f *fakeConnection) RetryConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

type fakePoller struct{ stats poller.Stats }

func (f fakePoller) Stats() poller.Stats { return f.stats }

type apiFixture struct {
	log     *alerts.Log
	events  *eventstore.Store
	policy  *surfacing.Policy
	tracker *pipelines.Tracker
	conn    *fakeConnection
	handler http.Handler
}

func newFixture(t *testing.T, perms permissions.Evaluator) *apiFixture {
	t.Helper()
	f := &apiFixture{
		log:     alerts.NewLog(100),
		events:  eventstore.New(eventstore.DefaultOptions()),
		tracker: pipelines.NewTracker(pipelines.Options{}),
		conn:    newFakeConnection(),
	}
	f.policy = surfacing.NewPolicy(f.log, surfacing.Options{Permissions: perms})
	srv := NewServer(Options{
		Log:         f.log,
		Events:      f.events,
		Policy:      f.policy,
		Pipelines:   f.tracker,
		Connection:  f.conn,
		Poller:      fakePoller{stats: poller.Stats{Polls: 3, Last: poller.Result{Pipelines: 2, At: testutil.BaseTime}}},
		Permissions: perms,
		Logger:      zap.NewNop(),
	})
	f.handler = srv.Handler()
	return f
}

func (f *apiFixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func (f *apiFixture) seedAlerts() {
	low := testutil.MakeAlert("pipeline-1", types.SeverityLow)
	conn := testutil.MakeAlert("connection-9", types.SeverityHigh)
	conn.Source = types.AlertSourceConnection
	crit := testutil.MakeAlert("replication-e1", types.SeverityCritical)
	crit.Source = types.AlertSourceReplication
	f.log.Add(low)
	f.log.Add(conn)
	f.log.Add(crit)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()

	w := f.do(t, http.MethodGet, "/api/v1/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[AlertsResponse](t, w)
	require.Len(t, resp.Alerts, 3)
	assert.Equal(t, "replication-e1", resp.Alerts[0].ID)
	assert.Equal(t, 3, resp.Unread)
}

func TestListAlerts_Filters(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()
	f.log.UpdateStatus("pipeline-1", types.AlertStatusResolved)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by source", "?source=connection", []string{"connection-9"}},
		{"by severity", "?severity=critical", []string{"replication-e1"}},
		{"by status", "?status=resolved", []string{"pipeline-1"}},
		{"limit", "?limit=2", []string{"replication-e1", "connection-9"}},
		{"no match", "?source=replication&severity=low", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/alerts"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[AlertsResponse](t, w)
			ids := []string{}
			for _, a := range resp.Alerts {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListAlerts_BadQuery(t *testing.T) {
	f := newFixture(t, nil)
	for _, q := range []string{"?limit=-1", "?limit=abc", "?status=closed"} {
		w := f.do(t, http.MethodGet, "/api/v1/alerts"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
	}
}

func TestListAlerts_ViewerCannotSeeConnectionAlerts(t *testing.T) {
	f := newFixture(t, permissions.NewRoleEvaluator(permissions.RoleViewer))
	f.seedAlerts()

	resp := decode[AlertsResponse](t, f.do(t, http.MethodGet, "/api/v1/alerts"))
	for _, a := range resp.Alerts {
		assert.NotEqual(t, types.AlertSourceConnection, a.Source)
	}
	assert.Len(t, resp.Alerts, 2)
	assert.Equal(t, 2, resp.Unread)

	view := decode[surfacing.View](t, f.do(t, http.MethodGet, "/api/v1/alerts/surfaced"))
	require.Len(t, view.Alerts, 1)
	assert.Equal(t, "replication-e1", view.Alerts[0].ID)
	assert.Equal(t, 1, view.Remaining)

	status := decode[StatusResponse](t, f.do(t, http.MethodGet, "/api/v1/status"))
	assert.Equal(t, 2, status.Unread)
}

func TestSurfacedAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()

	w := f.do(t, http.MethodGet, "/api/v1/alerts/surfaced")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[surfacing.View](t, w)
	require.Len(t, view.Alerts, 2)
	assert.Equal(t, "replication-e1", view.Alerts[0].ID)
	assert.Equal(t, "connection-9", view.Alerts[1].ID)
	assert.Equal(t, 1, view.Remaining)
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()

	w := f.do(t, http.MethodPost, "/api/v1/alerts/read")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[AlertsResponse](t, w).Unread)
	assert.Equal(t, 0, f.log.UnreadCount())
}

func TestAlertActions(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()

	w := f.do(t, http.MethodPost, "/api/v1/alerts/replication-e1/acknowledge")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AlertActionResponse](t, w)
	assert.Equal(t, types.AlertStatusAcknowledged, resp.Alert.Status)
	assert.True(t, resp.Dismissed)
	assert.Equal(t, 2, f.log.UnreadCount())

	w = f.do(t, http.MethodPost, "/api/v1/alerts/pipeline-1/escalate")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[AlertActionResponse](t, w).Escalated)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/connection-9/dismiss")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[AlertActionResponse](t, w)
	assert.True(t, resp.Dismissed)
	assert.Equal(t, types.AlertStatusUnresolved, resp.Alert.Status)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/connection-9/resolve")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.AlertStatusResolved, decode[AlertActionResponse](t, w).Alert.Status)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/connection-9/reopen")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.AlertStatusUnresolved, decode[AlertActionResponse](t, w).Alert.Status)
	assert.Equal(t, f.log.Recount(), f.log.UnreadCount())
}

func TestAlertActions_Errors(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()
	f.log.UpdateStatus("pipeline-1", types.AlertStatusResolved)

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"unknown alert", "/api/v1/alerts/nope/acknowledge", http.StatusNotFound},
		{"unknown action", "/api/v1/alerts/pipeline-1/snooze", http.StatusNotFound},
		{"escalate resolved", "/api/v1/alerts/pipeline-1/escalate", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.target)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	w := f.do(t, http.MethodGet, "/api/v1/alerts/pipeline-1/acknowledge")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAlertActions_Permissions(t *testing.T) {
	f := newFixture(t, permissions.NewRoleEvaluator(permissions.RoleViewer))
	f.seedAlerts()

	w := f.do(t, http.MethodPost, "/api/v1/alerts/pipeline-1/acknowledge")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "alerts:manage")

	op := newFixture(t, permissions.NewRoleEvaluator(permissions.RoleOperator))
	op.seedAlerts()
	assert.Equal(t, http.StatusOK, op.do(t, http.MethodPost, "/api/v1/alerts/connection-9/dismiss").Code)
}

func TestListEventsAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.events.AddEvent(testutil.MakeEvent("e1", "p1", types.EventStatusSuccess))
	f.events.AddEvent(testutil.MakeEvent("e2", "p2", types.EventStatusFailed))
	f.events.AddEvent(testutil.MakeEvent("e3", "p1", types.EventStatusApplied))
	f.events.AddMetric(types.Metric{PipelineID: "p1", LagSeconds: 1})
	f.events.AddMetric(types.Metric{PipelineID: "p2", LagSeconds: 2})

	events := decode[EventsResponse](t, f.do(t, http.MethodGet, "/api/v1/events"))
	require.Len(t, events.Events, 3)
	assert.Equal(t, types.ID("e3"), events.Events[0].ID)

	events = decode[EventsResponse](t, f.do(t, http.MethodGet, "/api/v1/events?pipeline_id=p1&limit=1"))
	require.Len(t, events.Events, 1)
	assert.Equal(t, types.ID("e3"), events.Events[0].ID)

	events = decode[EventsResponse](t, f.do(t, http.MethodGet, "/api/v1/events?pipeline_id=none"))
	assert.NotNil(t, events.Events)
	assert.Empty(t, events.Events)

	metrics := decode[MetricsResponse](t, f.do(t, http.MethodGet, "/api/v1/metrics?pipeline_id=p2"))
	require.Len(t, metrics.Metrics, 1)
	assert.Equal(t, 2.0, metrics.Metrics[0].LagSeconds)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/events?limit=x").Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAlerts()
	f.events.AddEvent(testutil.MakeEvent("e1", "p1", types.EventStatusSuccess))
	f.conn.reg.Add("p1")
	f.tracker.ApplyAction("p1", pipelines.ActionPause)

	w := f.do(t, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatusResponse](t, w)
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, resp.UpSince)
	assert.Equal(t, 1, resp.Events)
	assert.Equal(t, 3, resp.Alerts)
	assert.Equal(t, 3, resp.Unread)
	require.NotNil(t, resp.Connection)
	assert.Equal(t, "connected", resp.Connection.State)
	assert.Equal(t, uint64(2), resp.Connection.Reconnects)
	assert.Equal(t, []string{"p1"}, resp.Connection.Subscriptions)
	require.Len(t, resp.Provisional, 1)
	assert.Equal(t, types.PipelineStatusPaused, resp.Provisional[0].Expected)
	require.NotNil(t, resp.Poller)
	assert.Equal(t, uint64(3), resp.Poller.Polls)
	assert.Equal(t, 2, resp.Poller.Pipelines)
}

func TestStatus_Unwired(t *testing.T) {
	srv := NewServer(Options{
		Log:    alerts.NewLog(10),
		Events: eventstore.New(eventstore.Options{}),
		Policy: surfacing.NewPolicy(alerts.NewLog(10), surfacing.Options{}),
	})
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatusResponse](t, w)
	assert.Nil(t, resp.Connection)
	assert.Nil(t, resp.Poller)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/p1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/p1/pause", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptions(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions/42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"42"}, decode[SubscriptionsResponse](t, w).Subscriptions)

	w = f.do(t, http.MethodGet, "/api/v1/subscriptions")
	assert.Equal(t, []string{"42"}, decode[SubscriptionsResponse](t, w).Subscriptions)

	w = f.do(t, http.MethodDelete, "/api/v1/subscriptions/42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[SubscriptionsResponse](t, w).Subscriptions)

	w = f.do(t, http.MethodPost, "/api/v1/subscriptions/null")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscribe_DeferredWhenWriteFails(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.subscribeErr = errors.New("write: broken pipe")

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions/7")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, f.conn.reg.Has("7"))
}

func TestRetryConnection(t *testing.T) {
	f := newFixture(t, permissions.NewRoleEvaluator(permissions.RoleOperator))
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/connection/retry").Code)

	f = newFixture(t, permissions.NewRoleEvaluator(permissions.RoleAdmin))
	w := f.do(t, http.MethodPost, "/api/v1/connection/retry")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "connected", decode[ConnectionStatus](t, w).State)
	assert.Equal(t, 1, f.conn.retries)
}

func TestPipelineActions(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/pipelines/p1/pause")
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[PipelineActionResponse](t, w)
	assert.Equal(t, types.PipelineStatusPaused, resp.Status)
	assert.True(t, resp.Provisional)

	list := decode[ProvisionalResponse](t, f.do(t, http.MethodGet, "/api/v1/pipelines/provisional"))
	require.Len(t, list.Provisional, 1)
	assert.Equal(t, types.ID("p1"), list.Provisional[0].PipelineID)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/pipelines/p1/explode").Code)

	viewer := newFixture(t, permissions.NewRoleEvaluator(permissions.RoleViewer))
	assert.Equal(t, http.StatusForbidden, viewer.do(t, http.MethodPost, "/api/v1/pipelines/p1/stop").Code)
}
