// Package testutil provides shared test helpers for the cdcwatch project.
// Import this in test files to avoid duplicating event, pipeline and alert fixtures.
package testutil

import (
	"time"

	"github.com/potooio/cdcwatch/internal/types"
)

// BaseTime is a fixed reference time for deterministic fixtures.
var BaseTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// Latency returns a pointer suitable for ReplicationEvent.LatencyMs.
func Latency(ms float64) *float64 {
	return &ms
}

// MakeEvent creates a ReplicationEvent with the given identity and status.
func MakeEvent(id, pipelineID string, status types.EventStatus) types.ReplicationEvent {
	return types.ReplicationEvent{
		ID:         types.ID(id),
		PipelineID: types.ID(pipelineID),
		EventType:  "insert",
		TableName:  "public.orders",
		Status:     status,
		Timestamp:  BaseTime,
	}
}

// EventBuilder builds ReplicationEvents for tests.
type EventBuilder struct {
	e types.ReplicationEvent
}

// NewEventBuilder starts from a successful insert on pipeline "p1".
func NewEventBuilder(id string) *EventBuilder {
	return &EventBuilder{e: MakeEvent(id, "p1", types.EventStatusSuccess)}
}

// WithPipeline sets the pipeline ID.
func (b *EventBuilder) WithPipeline(id string) *EventBuilder {
	b.e.PipelineID = types.ID(id)
	return b
}

// WithStatus sets the status.
func (b *EventBuilder) WithStatus(s types.EventStatus) *EventBuilder {
	b.e.Status = s
	return b
}

// WithLatency sets the latency in milliseconds.
func (b *EventBuilder) WithLatency(ms float64) *EventBuilder {
	b.e.LatencyMs = Latency(ms)
	return b
}

// WithTable sets the table name.
func (b *EventBuilder) WithTable(name string) *EventBuilder {
	b.e.TableName = name
	return b
}

// At sets the timestamp.
func (b *EventBuilder) At(t time.Time) *EventBuilder {
	b.e.Timestamp = t
	return b
}

// Build returns the event.
func (b *EventBuilder) Build() types.ReplicationEvent {
	return b.e
}

// MakePipeline creates a Pipeline in the given status, updated at BaseTime.
func MakePipeline(id string, status types.PipelineStatus) types.Pipeline {
	return types.Pipeline{
		ID:        types.ID(id),
		Name:      "pipeline-" + id,
		Status:    status,
		CreatedAt: BaseTime.Add(-time.Hour),
		UpdatedAt: BaseTime,
	}
}

// MakeConnection creates a Connection with the given test outcome.
func MakeConnection(id string, active bool, testStatus types.ConnectionTestStatus) types.Connection {
	tested := BaseTime
	return types.Connection{
		ID:             types.ID(id),
		Name:           "conn-" + id,
		Role:           "source",
		DatabaseType:   "postgresql",
		IsActive:       active,
		LastTestStatus: testStatus,
		LastTestedAt:   &tested,
	}
}

// MakeAlert creates an unresolved Alert.
func MakeAlert(id string, severity types.Severity) types.Alert {
	return types.Alert{
		ID:        id,
		Type:      types.AlertTypeError,
		Source:    types.AlertSourcePipeline,
		SourceID:  types.ID(id),
		Message:   "Test alert " + id,
		Timestamp: BaseTime,
		Status:    types.AlertStatusUnresolved,
		Severity:  severity,
	}
}
