package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/potooio/cdcwatch/internal/api"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connection and poller status",
		Long: `Show the realtime connection state, store sizes, unread alerts and
fallback poller progress of a running cdcwatchd.

Examples:
  # Show status
  cdcwatchctl status

  # Output as JSON
  cdcwatchctl status -o json`,
		RunE: runStatus,
	}

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.StatusResponse
	if err := client.get(ctx, "/api/v1/status", nil, &result); err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	return outputResult(result, outputFmt)
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset and redial the realtime connection",
		Long: `Clear the error and attempt counters of the realtime connection and
connect again. Use this after the connection has permanently failed.

Examples:
  cdcwatchctl retry`,
		Args: cobra.NoArgs,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.ConnectionStatus
	if err := client.post(ctx, "/api/v1/connection/retry", &result); err != nil {
		return fmt.Errorf("failed to retry connection: %w", err)
	}

	return outputResult(result, outputFmt)
}

// commandContext returns the command's context, or Background when the
// command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
