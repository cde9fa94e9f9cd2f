// cdcwatchd runs the CDC dashboard core: it holds the realtime connection to
// the event server, correlates replication activity into alerts and serves
// the operator API.
//
// Usage:
//
//	cdcwatchd --config cdcwatch.yaml
//	CDCWATCH_BACKEND_BASE_URL=http://cdc:8000 cdcwatchd --log-level debug
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/potooio/cdcwatch/internal/config"
	"github.com/potooio/cdcwatch/internal/dashboard"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd(config.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(v *viper.Viper) *cobra.Command {
	var (
		configFile string
		envFiles   []string
	)

	cmd := &cobra.Command{
		Use:   "cdcwatchd",
		Short: "Run the CDC dashboard daemon",
		Long: `cdcwatchd connects to the CDC event server, keeps a bounded window of
replication events and monitoring metrics, raises alerts for failures and
latency spikes, and serves them over an HTTP API.

Configuration is read from defaults, an optional YAML file, .env files and
CDCWATCH_* environment variables. Flags override all of them.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			return run(cmd.Context(), cfg, v, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file.")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load before reading the environment.")
	flags.String("listen-addr", v.GetString("server.listen_addr"), "Address the API, /metrics and /healthz bind to.")
	flags.String("backend-url", v.GetString("backend.base_url"), "Base URL of the CDC backend REST API.")
	flags.String("role", v.GetString("server.role"), "Operator role for API permission checks (admin, operator, viewer).")
	flags.Bool("realtime", v.GetBool("realtime.enabled"), "Connect to the realtime event server.")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error).")

	for key, flag := range map[string]string{
		"server.listen_addr": "listen-addr",
		"backend.base_url":   "backend-url",
		"server.role":        "role",
		"realtime.enabled":   "realtime",
		"log.level":          "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	return cmd
}

// run starts the dashboard service and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func run(ctx context.Context, cfg config.Config, v *viper.Viper, logger *zap.Logger) error {
	logger.Info("Starting cdcwatch",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Bool("realtime_enabled", cfg.Realtime.Enabled),
		zap.String("role", cfg.Server.Role),
	)

	svc, err := dashboard.New(cfg, dashboard.Deps{
		Logger:  logger,
		Enabled: config.EnabledFunc(v),
	})
	if err != nil {
		return fmt.Errorf("build dashboard: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			logger.Warn("Dashboard stopped with error", zap.Error(err))
		}
	}()

	srv := newHTTPServer(cfg.Server.ListenAddr, svc)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newLogger builds the production zap logger with ISO8601 timestamps, or the
// development logger when requested.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	if cfg.Development {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = level
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}
