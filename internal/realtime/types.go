package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// ConnectionState tracks the client's connection to the event server.
type ConnectionState string

const (
	StateDisconnected      ConnectionState = "disconnected"
	StateConnecting        ConnectionState = "connecting"
	StateConnected         ConnectionState = "connected"
	StateReconnecting      ConnectionState = "reconnecting"
	StatePermanentlyFailed ConnectionState = "permanently_failed"
)

// StatusChange describes a single state transition.
type StatusChange struct {
	From ConnectionState
	To   ConnectionState
	At   time.Time
	// Err is the cause of the transition, if any.
	Err error
}

// StatusListener is invoked synchronously once per transition.
type StatusListener func(StatusChange)

// Frame types exchanged with the event server.
const (
	TypeReplicationEvent    = "replication_event"
	TypeMonitoringMetric    = "monitoring_metric"
	TypePipelineStatus      = "pipeline_status"
	TypeSubscribePipeline   = "subscribe_pipeline"
	TypeUnsubscribePipeline = "unsubscribe_pipeline"
)

// Frame is a tagged message on the wire: {"type": "...", "data": {...}}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChannelPayload is the data of subscribe_pipeline and unsubscribe_pipeline frames.
type ChannelPayload struct {
	PipelineID string `json:"pipeline_id"`
}

// NewFrame marshals data into a Frame of the given type.
func NewFrame(frameType string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}

// Handler consumes inbound frames. HandleFrame is called from the connection
// loop in delivery order and must not block on network I/O.
type Handler interface {
	HandleFrame(ctx context.Context, f Frame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Frame)

// HandleFrame implements Handler.
func (fn HandlerFunc) HandleFrame(ctx context.Context, f Frame) {
	fn(ctx, f)
}

// ClientStats contains client statistics.
type ClientStats struct {
	State          ConnectionState
	ErrorCount     int
	Reconnects     uint64
	FramesReceived uint64
	FramesDropped  uint64
	Subscriptions  int
	LastError      string
}
