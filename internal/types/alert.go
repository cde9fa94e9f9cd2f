package types

import "time"

// AlertType is the presentation category of an alert.
type AlertType string

const (
	AlertTypeError   AlertType = "error"
	AlertTypeWarning AlertType = "warning"
	AlertTypeInfo    AlertType = "info"
)

// AlertSource identifies the domain signal an alert was derived from.
type AlertSource string

const (
	AlertSourceConnection  AlertSource = "connection"
	AlertSourcePipeline    AlertSource = "pipeline"
	AlertSourceReplication AlertSource = "replication"
)

// AlertStatus is the operator-facing lifecycle of an alert.
type AlertStatus string

const (
	AlertStatusUnresolved   AlertStatus = "unresolved"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusUnresolved, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// Severity indicates how urgently an alert needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical" // Pipeline down, slow failing replication
	SeverityHigh     Severity = "high"     // Connection test failures, replication failures
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities; higher is more urgent. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Alert is a record derived from a domain fact. ID is a deterministic key of
// that fact so re-observing it never creates a second alert.
type Alert struct {
	ID         string      `json:"id"`
	Type       AlertType   `json:"type"`
	Source     AlertSource `json:"source"`
	SourceID   ID          `json:"source_id,omitempty"`
	SourceName string      `json:"source_name,omitempty"`
	Message    string      `json:"message"`
	Details    string      `json:"details,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     AlertStatus `json:"status"`
	Severity   Severity    `json:"severity"`
}

// IsUnresolved is shorthand for Status == AlertStatusUnresolved.
func (a Alert) IsUnresolved() bool {
	return a.Status == AlertStatusUnresolved
}
