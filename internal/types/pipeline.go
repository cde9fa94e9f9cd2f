package types

import "time"

// PipelineStatus is the lifecycle state of a replication pipeline as reported by the backend.
type PipelineStatus string

const (
	PipelineStatusActive   PipelineStatus = "active"
	PipelineStatusRunning  PipelineStatus = "running"
	PipelineStatusStarting PipelineStatus = "starting"
	PipelineStatusPaused   PipelineStatus = "paused"
	PipelineStatusStopped  PipelineStatus = "stopped"
	PipelineStatusError    PipelineStatus = "error"
)

// Pipeline is the subset of a pipeline record the correlator needs.
type Pipeline struct {
	ID        ID             `json:"id"`
	Name      string         `json:"name"`
	Status    PipelineStatus `json:"status"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// ChangedAt returns UpdatedAt, falling back to CreatedAt for records that
// were never modified.
func (p Pipeline) ChangedAt() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// ConnectionTestStatus is the outcome of the last connectivity test.
type ConnectionTestStatus string

const (
	ConnectionTestSuccess ConnectionTestStatus = "success"
	ConnectionTestFailed  ConnectionTestStatus = "failed"
)

// Connection is a configured source or target database connection.
type Connection struct {
	ID             ID                   `json:"id"`
	Name           string               `json:"name"`
	Role           string               `json:"role,omitempty"` // source or target
	DatabaseType   string               `json:"database_type,omitempty"`
	IsActive       bool                 `json:"is_active"`
	LastTestStatus ConnectionTestStatus `json:"last_test_status,omitempty"`
	LastTestedAt   *time.Time           `json:"last_tested_at,omitempty"`
}

// PipelineStatusUpdate is the informational payload of a pipeline_status frame.
type PipelineStatusUpdate struct {
	PipelineID ID             `json:"pipeline_id" validate:"required"`
	Status     PipelineStatus `json:"status" validate:"required"`
	Message    string         `json:"message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
