package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/potooio/cdcwatch/internal/api"
	"github.com/potooio/cdcwatch/internal/pipelines"
)

func subscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "List pipeline subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSubscription(cmd, http.MethodGet, "")
		},
	}
}

func subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe [pipeline-id]",
		Short: "Subscribe to a pipeline's realtime events",
		Long: `Register interest in a pipeline. The subscription is kept and replayed
after every reconnect; if the daemon is disconnected it is sent on the next
connect.

Examples:
  cdcwatchctl subscribe 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSubscription(cmd, http.MethodPost, args[0])
		},
	}
}

func unsubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe [pipeline-id]",
		Short: "Remove a pipeline subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeSubscription(cmd, http.MethodDelete, args[0])
		},
	}
}

func changeSubscription(cmd *cobra.Command, method, id string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.SubscriptionsResponse
	switch method {
	case http.MethodPost:
		err = client.post(ctx, "/api/v1/subscriptions/"+url.PathEscape(id), &result)
	case http.MethodDelete:
		err = client.delete(ctx, "/api/v1/subscriptions/"+url.PathEscape(id), &result)
	default:
		err = client.get(ctx, "/api/v1/subscriptions", nil, &result)
	}
	if err != nil {
		return fmt.Errorf("subscriptions: %w", err)
	}

	return outputResult(result, outputFmt)
}

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline [action] [pipeline-id]",
		Short: "Record a pipeline control action",
		Long: `Record that start, resume, pause or stop was issued for a pipeline.
The dashboard shows the expected status until the backend confirms or
overrides it.

Examples:
  cdcwatchctl pipeline pause 42
  cdcwatchctl pipeline provisional`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"start", "resume", "pause", "stop"},
		RunE:      runPipelineAction,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "provisional",
		Short: "List pipelines with an unconfirmed status",
		Args:  cobra.NoArgs,
		RunE:  runProvisional,
	})

	return cmd
}

func runPipelineAction(cmd *cobra.Command, args []string) error {
	action, id := args[0], args[1]
	if _, ok := pipelines.ExpectedStatus(pipelines.Action(action)); !ok {
		return fmt.Errorf("unknown pipeline action %q", action)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.PipelineActionResponse
	path := "/api/v1/pipelines/" + url.PathEscape(id) + "/" + action
	if err := client.post(ctx, path, &result); err != nil {
		return fmt.Errorf("failed to %s pipeline: %w", action, err)
	}

	return outputResult(result, outputFmt)
}

func runProvisional(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), reqTimeout)
	defer cancel()

	var result api.ProvisionalResponse
	if err := client.get(ctx, "/api/v1/pipelines/provisional", nil, &result); err != nil {
		return fmt.Errorf("failed to list provisional pipelines: %w", err)
	}

	return outputResult(result, outputFmt)
}
