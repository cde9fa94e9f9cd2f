package notifier

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/potooio/cdcwatch/internal/types"
)

// PayloadSchemaVersion is bumped on breaking changes to AlertPayload.
const PayloadSchemaVersion = "1"

// AlertPayload is the flattened, channel-neutral form of an alert handed to
// senders.
type AlertPayload struct {
	SchemaVersion string `json:"schemaVersion"`
	AlertID       string `json:"alertId"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	SourceID      string `json:"sourceId,omitempty"`
	SourceName    string `json:"sourceName,omitempty"`
	Severity      string `json:"severity"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	ObservedAt    string `json:"observedAt"`
	// DashboardURL deep-links to the alert's source when a base URL is configured.
	DashboardURL string `json:"dashboardUrl,omitempty"`
}

// BuildPayload converts an alert into an AlertPayload. dashboardURL may be
// empty.
func BuildPayload(a types.Alert, dashboardURL string) AlertPayload {
	observed := a.Timestamp
	if observed.IsZero() {
		observed = time.Now()
	}
	return AlertPayload{
		SchemaVersion: PayloadSchemaVersion,
		AlertID:       a.ID,
		Type:          string(a.Type),
		Source:        string(a.Source),
		SourceID:      a.SourceID.String(),
		SourceName:    a.SourceName,
		Severity:      string(a.Severity),
		Status:        string(a.Status),
		Message:       RenderMessage(a),
		Details:       a.Details,
		ObservedAt:    observed.UTC().Format(time.RFC3339),
		DashboardURL:  deepLink(dashboardURL, a),
	}
}

// RenderMessage formats a one-line, human readable description of an alert.
//
//	"[critical] replication orders-sync: Replication failed for table orders"
func RenderMessage(a types.Alert) string {
	subject := a.SourceName
	if subject == "" {
		subject = a.SourceID.String()
	}
	prefix := fmt.Sprintf("[%s] %s", a.Severity, a.Source)
	if subject != "" {
		prefix += " " + subject
	}
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = "alert raised"
	}
	return prefix + ": " + msg
}

func deepLink(base string, a types.Alert) string {
	if base == "" || a.SourceID.IsZero() {
		return ""
	}
	var section string
	switch a.Source {
	case types.AlertSourceConnection:
		section = "connections"
	default:
		section = "pipelines"
	}
	return strings.TrimRight(base, "/") + "/" + section + "/" + url.PathEscape(a.SourceID.String())
}
