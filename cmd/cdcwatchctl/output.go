package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/potooio/cdcwatch/internal/api"
	"github.com/potooio/cdcwatch/internal/surfacing"
	"github.com/potooio/cdcwatch/internal/types"
)

// CheckResult is the result of a check command.
type CheckResult struct {
	File              string   `json:"file"`
	Valid             bool     `json:"valid"`
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	RealtimeURL       string   `json:"realtimeURL,omitempty"`
	RealtimeEnabled   bool     `json:"realtimeEnabled"`
	WebhookConfigured bool     `json:"webhookConfigured"`
}

// outputResult outputs the result in the specified format.
func outputResult(result interface{}, format string) error {
	switch format {
	case "json":
		return outputJSON(result)
	case "yaml":
		return outputYAML(result)
	default:
		return outputTable(result)
	}
}

func outputJSON(result interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputYAML(result interface{}) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func outputTable(result interface{}) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case api.StatusResponse:
		return outputStatusTable(w, r)
	case api.ConnectionStatus:
		return outputConnectionTable(w, r)
	case api.AlertsResponse:
		return outputAlertsTable(w, r.Alerts, fmt.Sprintf("UNREAD:\t%d\n\n", r.Unread))
	case surfacing.View:
		footer := ""
		if r.Remaining > 0 {
			footer = fmt.Sprintf("\n%d more alerts\n", r.Remaining)
		}
		if err := outputAlertsTable(w, r.Alerts, ""); err != nil {
			return err
		}
		fmt.Fprint(w, footer)
		return nil
	case api.AlertActionResponse:
		return outputAlertActionTable(w, r)
	case api.EventsResponse:
		return outputEventsTable(w, r)
	case api.MetricsResponse:
		return outputMetricsTable(w, r)
	case api.SubscriptionsResponse:
		fmt.Fprintln(w, "PIPELINE")
		for _, id := range r.Subscriptions {
			fmt.Fprintln(w, id)
		}
		return nil
	case api.PipelineActionResponse:
		fmt.Fprintf(w, "PIPELINE:\t%s\n", r.PipelineID)
		fmt.Fprintf(w, "STATUS:\t%s\n", r.Status)
		fmt.Fprintf(w, "PROVISIONAL:\t%t\n", r.Provisional)
		return nil
	case api.ProvisionalResponse:
		fmt.Fprintln(w, "PIPELINE\tEXPECTED\tSINCE\tDISAGREEMENTS\tBACKEND")
		for _, p := range r.Provisional {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				p.PipelineID, p.Expected, formatTime(p.Since), p.Disagreements, dash(string(p.LastBackendSeen)))
		}
		return nil
	case CheckResult:
		return outputCheckTable(w, r)
	default:
		// Fall back to JSON for unknown types
		return outputJSON(result)
	}
}

func outputStatusTable(w *tabwriter.Writer, r api.StatusResponse) error {
	fmt.Fprintf(w, "VERSION:\t%s\n", r.Version)
	fmt.Fprintf(w, "UP SINCE:\t%s\n", r.UpSince)
	if r.Connection != nil {
		fmt.Fprintf(w, "CONNECTION:\t%s\n", r.Connection.State)
		fmt.Fprintf(w, "ERRORS:\t%d\n", r.Connection.ErrorCount)
		if r.Connection.LastError != "" {
			fmt.Fprintf(w, "LAST ERROR:\t%s\n", r.Connection.LastError)
		}
		fmt.Fprintf(w, "SUBSCRIPTIONS:\t%s\n", dash(strings.Join(r.Connection.Subscriptions, ", ")))
	} else {
		fmt.Fprintf(w, "CONNECTION:\t%s\n", "not configured")
	}
	fmt.Fprintf(w, "EVENTS:\t%d\n", r.Events)
	fmt.Fprintf(w, "METRICS:\t%d\n", r.Metrics)
	fmt.Fprintf(w, "ALERTS:\t%d (%d unread)\n", r.Alerts, r.Unread)
	if r.Poller != nil {
		fmt.Fprintf(w, "POLLS:\t%d (last %s)\n", r.Poller.Polls, dash(r.Poller.LastPoll))
		if r.Poller.LastError != "" {
			fmt.Fprintf(w, "POLL ERROR:\t%s\n", r.Poller.LastError)
		}
	}

	if len(r.Provisional) > 0 {
		fmt.Fprintln(w, "\nPROVISIONAL PIPELINE\tEXPECTED\tSINCE")
		for _, p := range r.Provisional {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.PipelineID, p.Expected, formatTime(p.Since))
		}
	}

	return nil
}

func outputConnectionTable(w *tabwriter.Writer, r api.ConnectionStatus) error {
	fmt.Fprintf(w, "STATE:\t%s\n", r.State)
	fmt.Fprintf(w, "ERRORS:\t%d\n", r.ErrorCount)
	fmt.Fprintf(w, "RECONNECTS:\t%d\n", r.Reconnects)
	fmt.Fprintf(w, "FRAMES:\t%d received, %d dropped\n", r.FramesReceived, r.FramesDropped)
	if r.LastError != "" {
		fmt.Fprintf(w, "LAST ERROR:\t%s\n", r.LastError)
	}
	return nil
}

func outputAlertsTable(w *tabwriter.Writer, alerts []types.Alert, header string) error {
	fmt.Fprint(w, header)
	fmt.Fprintln(w, "ID\tSEVERITY\tSOURCE\tSTATUS\tTIME\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, colorize(string(a.Severity)), a.Source, a.Status, formatTime(a.Timestamp), a.Message)
	}
	return nil
}

func outputAlertActionTable(w *tabwriter.Writer, r api.AlertActionResponse) error {
	fmt.Fprintf(w, "ALERT:\t%s\n", r.Alert.ID)
	fmt.Fprintf(w, "STATUS:\t%s\n", r.Alert.Status)
	fmt.Fprintf(w, "SEVERITY:\t%s\n", colorize(string(r.Alert.Severity)))
	fmt.Fprintf(w, "DISMISSED:\t%t\n", r.Dismissed)
	fmt.Fprintf(w, "ESCALATED:\t%t\n", r.Escalated)
	return nil
}

func outputEventsTable(w *tabwriter.Writer, r api.EventsResponse) error {
	fmt.Fprintln(w, "ID\tPIPELINE\tTABLE\tSTATUS\tLATENCY\tTIME\tERROR")
	for _, e := range r.Events {
		latency := "-"
		if e.LatencyMs != nil {
			latency = e.Latency().String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.PipelineID, dash(e.TableName), e.Status, latency, formatTime(e.Timestamp), e.Error)
	}
	return nil
}

func outputMetricsTable(w *tabwriter.Writer, r api.MetricsResponse) error {
	fmt.Fprintln(w, "PIPELINE\tTIME\tLAG\tTHROUGHPUT\tERRORS")
	for _, m := range r.Metrics {
		fmt.Fprintf(w, "%s\t%s\t%.1fs\t%.1f\t%d\n",
			m.PipelineID, formatTime(m.Timestamp), m.LagSeconds, m.Throughput, m.ErrorCount)
	}
	return nil
}

func outputCheckTable(w *tabwriter.Writer, r CheckResult) error {
	status := "VALID"
	if !r.Valid {
		status = "INVALID"
	}

	fmt.Fprintf(w, "FILE:\t%s\n", r.File)
	fmt.Fprintf(w, "STATUS:\t%s\n", status)
	if r.Valid {
		fmt.Fprintf(w, "REALTIME:\t%s (enabled=%t)\n", r.RealtimeURL, r.RealtimeEnabled)
		fmt.Fprintf(w, "WEBHOOK:\t%t\n", r.WebhookConfigured)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nERRORS:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "- %s\n", e)
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nWARNINGS:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", warn)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// colorize wraps a severity in its color when --color is set.
func colorize(severity string) string {
	c := severityColor(severity)
	if !useColor || c == "" {
		return severity
	}
	return c + severity + "\033[0m"
}

// severityColor returns ANSI color code for severity (used in table output).
func severityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "\033[31m" // Red
	case "high":
		return "\033[35m" // Magenta
	case "medium":
		return "\033[33m" // Yellow
	case "low":
		return "\033[36m" // Cyan
	default:
		return ""
	}
}
