// cdcwatchctl is a CLI for querying and operating a running cdcwatchd.
//
// Installation:
//
//	go build -o cdcwatchctl ./cmd/cdcwatchctl
//	mv cdcwatchctl /usr/local/bin/
//
// Usage:
//
//	cdcwatchctl status
//	cdcwatchctl alerts --severity critical
//	cdcwatchctl alert acknowledge replication_e1
//	cdcwatchctl events --pipeline 42 -o json
//	cdcwatchctl subscribe 42
//	cdcwatchctl retry
//	cdcwatchctl check -f cdcwatch.yaml
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	outputFmt  string
	serverURL  string
	reqTimeout time.Duration
	useColor   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cdcwatchctl",
		Short: "Query and operate the CDC dashboard daemon",
		Long: `cdcwatchctl talks to the cdcwatchd HTTP API.

It lists alerts, replication events and metrics, manages pipeline
subscriptions and the realtime connection, and validates config files.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("CDCWATCH_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "cdcwatchd base URL (env CDCWATCH_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&useColor, "color", false, "Colorize severities in table output")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(subscriptionsCmd())
	rootCmd.AddCommand(subscribeCmd())
	rootCmd.AddCommand(unsubscribeCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(checkCmd())

	return rootCmd
}
