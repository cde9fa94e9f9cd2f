package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/potooio/cdcwatch/internal/api"
)

var (
	eventsPipeline string
	eventsLimit    int
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent replication events",
		Long: `List the replication events held by the daemon, newest first.

Examples:
  # Last 20 events
  cdcwatchctl events --limit 20

  # Events of one pipeline
  cdcwatchctl events --pipeline 42`,
		Args: cobra.NoArgs,
		RunE: runEvents,
	}

	addWindowFlags(cmd)
	return cmd
}

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List recent monitoring metrics",
		Long: `List the monitoring samples held by the daemon, newest first.

Examples:
  cdcwatchctl metrics --pipeline 42 --limit 10`,
		Args: cobra.NoArgs,
		RunE: runMetrics,
	}

	addWindowFlags(cmd)
	return cmd
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&eventsPipeline, "pipeline", "p", "", "Only show this pipeline")
	cmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of entries (0 for all)")
}

func windowQuery() url.Values {
	q := url.Values{}
	if eventsPipeline != "" {
		q.Set("pipeline_id", eventsPipeline)
	}
	if eventsLimit > 0 {
		q.Set("limit", strconv.Itoa(eventsLimit))
	}
	return q
}

func runEvents(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.EventsResponse
	if err := client.get(ctx, "/api/v1/events", windowQuery(), &result); err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	return outputResult(result, outputFmt)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.MetricsResponse
	if err := client.get(ctx, "/api/v1/metrics", windowQuery(), &result); err != nil {
		return fmt.Errorf("failed to list metrics: %w", err)
	}

	return outputResult(result, outputFmt)
}
