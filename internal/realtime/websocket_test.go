package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsServer is an in-process event server. Each accepted session is handed
// to onSession; returning closes the session with a normal closure.
type wsServer struct {
	*httptest.Server
	upgrader  websocket.Upgrader
	onSession func(ws *websocket.Conn)

	mu       sync.Mutex
	sessions []string
}

func newWSServer(t *testing.T, onSession func(ws *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{onSession: onSession}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.sessions = append(s.sessions, r.Header.Get(SessionHeader))
		s.mu.Unlock()

		s.onSession(ws)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions...)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	received := make(chan Frame, 1)
	srv := newWSServer(t, func(ws *websocket.Conn) {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		received <- f
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"monitoring_metric","data":{"pipeline_id":"1"}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_, _, _ = ws.ReadMessage()
	})

	d, err := NewWebsocketDialer(srv.URL, http.Header{"Authorization": []string{"Bearer t"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d.URL(), "ws://"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	conn, err := d.Dial(ctx)
	require.NoError(t, err)

	out, err := NewFrame(TypeSubscribePipeline, ChannelPayload{PipelineID: "1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(out))

	select {
	case f := <-received:
		assert.Equal(t, TypeSubscribePipeline, f.Type)
		assert.JSONEq(t, `{"pipeline_id":"1"}`, string(f.Data))
	case <-time.After(waitFor):
		t.Fatal("server did not receive frame")
	}

	f, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TypeMonitoringMetric, f.Type)

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, ErrMalformedFrame)

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{d.SessionID()}, srv.Sessions())
}

func TestWebsocketDialer_ServerCloseIsClassified(t *testing.T) {
	srv := newWSServer(t, func(*websocket.Conn) {})

	d, err := NewWebsocketDialer(wsURL(srv.Server), nil)
	require.NoError(t, err)
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestWebsocketDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no websockets here", http.StatusNotFound)
	}))
	defer srv.Close()

	d, err := NewWebsocketDialer(srv.URL, nil)
	require.NoError(t, err)
	_, err = d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClient_OverWebsocket_ReplaysAfterServerClose(t *testing.T) {
	subscribes := make(chan string, 8)
	var mu sync.Mutex
	sessions := 0

	srv := newWSServer(t, func(ws *websocket.Conn) {
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()

		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		subscribes <- f.Type + ":" + string(f.Data)
		_ = ws.WriteJSON(Frame{Type: TypeMonitoringMetric, Data: []byte(`{"pipeline_id":"7"}`)})
		if n > 1 {
			// Keep the second session open until the client leaves.
			_, _, _ = ws.ReadMessage()
		}
	})

	frames := make(chan Frame, 8)
	opts := DefaultOptions()
	opts.URL = srv.URL
	opts.ReconnectInterval = 5 * time.Millisecond
	opts.Logger = zap.NewNop()
	opts.Handler = HandlerFunc(func(_ context.Context, f Frame) { frames <- f })
	c, err := NewClient(opts)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Subscribe("7"))

	for i := 0; i < 2; i++ {
		select {
		case got := <-subscribes:
			assert.Equal(t, `subscribe_pipeline:{"pipeline_id":"7"}`, got)
		case <-time.After(waitFor):
			t.Fatalf("no subscribe on session %d", i+1)
		}
		select {
		case f := <-frames:
			assert.Equal(t, TypeMonitoringMetric, f.Type)
		case <-time.After(waitFor):
			t.Fatalf("no frame on session %d", i+1)
		}
	}

	require.Eventually(t, func() bool { return c.Stats().Reconnects == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, c.Stats().ErrorCount)
	assert.Equal(t, StateConnected, c.State())
}
