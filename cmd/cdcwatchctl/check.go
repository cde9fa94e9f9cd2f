package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/potooio/cdcwatch/internal/config"
)

var (
	checkFile string
)

// knownSections are the top-level keys of a daemon config file.
var knownSections = map[string]bool{
	"server": true, "backend": true, "realtime": true, "store": true, "alerts": true,
	"pipelines": true, "poller": true, "refresh": true, "notify": true, "log": true,
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a daemon config file",
		Long: `Load a cdcwatchd config file the way the daemon does, including
defaults and CDCWATCH_* environment overrides, and report problems.

Examples:
  # Check a config file
  cdcwatchctl check -f cdcwatch.yaml

  # Check and output as JSON
  cdcwatchctl check -f cdcwatch.yaml -o json`,
		RunE: runCheck,
	}

	cmd.Flags().StringVarP(&checkFile, "filename", "f", "", "Config file to check (required)")
	cmd.MarkFlagRequired("filename")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(checkFile)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	result := CheckResult{File: checkFile, Valid: true}
	for key := range raw {
		if !knownSections[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown section %q is ignored", key))
		}
	}
	sort.Strings(result.Warnings)

	cfg, err := config.Load(config.New(), checkFile)
	if err != nil {
		result.Valid = false
		result.Errors = splitConfigErrors(err)
	} else {
		result.RealtimeURL = cfg.RealtimeURL()
		result.RealtimeEnabled = cfg.Realtime.Enabled
		result.WebhookConfigured = cfg.Notify.WebhookURL != ""
		if cfg.Backend.Token == "" {
			result.Warnings = append(result.Warnings, "backend.token is empty; requests are unauthenticated")
		}
	}

	if err := outputResult(result, outputFmt); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%s is invalid", checkFile)
	}
	return nil
}

// splitConfigErrors turns the joined validation message into one entry per
// failed field.
func splitConfigErrors(err error) []string {
	msg := strings.TrimPrefix(err.Error(), "invalid config: ")
	return strings.Split(msg, "; ")
}
