package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/potooio/cdcwatch/internal/api"
	"github.com/potooio/cdcwatch/internal/surfacing"
)

var (
	alertSource   string
	alertStatus   string
	alertSeverity string
	alertLimit    int
	alertSurfaced bool
)

// alertActions are the actions accepted by the alert command.
var alertActions = []string{"acknowledge", "dismiss", "escalate", "resolve", "reopen"}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		Long: `List alerts raised by the daemon, newest first.

Examples:
  # All alerts
  cdcwatchctl alerts

  # Unresolved critical replication alerts
  cdcwatchctl alerts --source replication --status unresolved --severity critical

  # The few alerts the dashboard would surface right now
  cdcwatchctl alerts --surfaced`,
		Args: cobra.NoArgs,
		RunE: runAlerts,
	}

	cmd.Flags().StringVar(&alertSource, "source", "", "Filter by source (pipeline, connection, replication)")
	cmd.Flags().StringVar(&alertStatus, "status", "", "Filter by status (unresolved, acknowledged, resolved)")
	cmd.Flags().StringVar(&alertSeverity, "severity", "", "Filter by severity (critical, high, medium, low)")
	cmd.Flags().IntVar(&alertLimit, "limit", 0, "Maximum number of alerts (0 for all)")
	cmd.Flags().BoolVar(&alertSurfaced, "surfaced", false, "Show only the surfaced alerts")

	cmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Mark all alerts as read",
		Args:  cobra.NoArgs,
		RunE:  runMarkRead,
	})

	return cmd
}

func runAlerts(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	if alertSurfaced {
		var view surfacing.View
		if err := client.get(ctx, "/api/v1/alerts/surfaced", nil, &view); err != nil {
			return fmt.Errorf("failed to get surfaced alerts: %w", err)
		}
		return outputResult(view, outputFmt)
	}

	q := url.Values{}
	if alertSource != "" {
		q.Set("source", alertSource)
	}
	if alertStatus != "" {
		q.Set("status", alertStatus)
	}
	if alertSeverity != "" {
		q.Set("severity", alertSeverity)
	}
	if alertLimit > 0 {
		q.Set("limit", strconv.Itoa(alertLimit))
	}

	var result api.AlertsResponse
	if err := client.get(ctx, "/api/v1/alerts", q, &result); err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	return outputResult(result, outputFmt)
}

func runMarkRead(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.AlertsResponse
	if err := client.post(ctx, "/api/v1/alerts/read", &result); err != nil {
		return fmt.Errorf("failed to mark alerts read: %w", err)
	}

	return outputResult(result, outputFmt)
}

func alertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alert [action] [alert-id]",
		Short: "Acknowledge, dismiss, escalate, resolve or reopen an alert",
		Long: `Apply an action to a single alert.

Examples:
  cdcwatchctl alert acknowledge replication_e1
  cdcwatchctl alert dismiss connection_9_2024-01-01T00:00:00Z`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: alertActions,
		RunE:      runAlertAction,
	}
}

func runAlertAction(cmd *cobra.Command, args []string) error {
	action, id := args[0], args[1]
	if !slices.Contains(alertActions, action) {
		return fmt.Errorf("unknown action %q (want one of %v)", action, alertActions)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.AlertActionResponse
	path := "/api/v1/alerts/" + url.PathEscape(id) + "/" + action
	if err := client.post(ctx, path, &result); err != nil {
		if isStatus(err, http.StatusConflict) {
			return fmt.Errorf("alert %s: %s had no effect", id, action)
		}
		return fmt.Errorf("failed to %s alert: %w", action, err)
	}

	return outputResult(result, outputFmt)
}
