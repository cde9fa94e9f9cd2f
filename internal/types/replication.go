package types

import "time"

// EventStatus is the processing state of a replicated change.
type EventStatus string

const (
	EventStatusPending EventStatus = "pending"
	EventStatusApplied EventStatus = "applied"
	EventStatusSuccess EventStatus = "success"
	EventStatusFailed  EventStatus = "failed"
	EventStatusError   EventStatus = "error"
)

// IsFailure returns true for statuses that should raise a replication alert.
func (s EventStatus) IsFailure() bool {
	return s == EventStatusFailed || s == EventStatusError
}

// ReplicationEvent is a single change observed flowing through a pipeline.
// Identity is ID; once stored an event is never updated.
type ReplicationEvent struct {
	ID         ID          `json:"id" validate:"required"`
	PipelineID ID          `json:"pipeline_id" validate:"required"`
	EventType  string      `json:"event_type,omitempty"`
	TableName  string      `json:"table_name,omitempty"`
	Status     EventStatus `json:"status" validate:"required,oneof=pending applied success failed error"`
	Timestamp  time.Time   `json:"timestamp"`
	// LatencyMs is nil when the backend did not measure it.
	LatencyMs *float64 `json:"latency_ms,omitempty" validate:"omitempty,gte=0"`
	Error     string   `json:"error_message,omitempty"`
}

// Latency returns the measured latency, or zero when unknown.
func (e ReplicationEvent) Latency() time.Duration {
	if e.LatencyMs == nil {
		return 0
	}
	return time.Duration(*e.LatencyMs * float64(time.Millisecond))
}

// Metric is a monitoring sample for a pipeline. Metrics have no identity and
// are never deduplicated.
type Metric struct {
	PipelineID ID        `json:"pipeline_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp"`
	LagSeconds float64   `json:"lag_seconds"`
	Throughput float64   `json:"throughput"`
	ErrorCount int       `json:"error_count" validate:"gte=0"`
}
