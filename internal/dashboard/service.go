// Package dashboard assembles the ingestion, dedup and alerting components
// into one Service with an explicit lifecycle: Start when the dashboard is
// mounted, Stop when it goes away.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/potooio/cdcwatch/internal/alerts"
	"github.com/potooio/cdcwatch/internal/api"
	"github.com/potooio/cdcwatch/internal/config"
	"github.com/potooio/cdcwatch/internal/eventstore"
	"github.com/potooio/cdcwatch/internal/ingest"
	"github.com/potooio/cdcwatch/internal/notifier"
	"github.com/potooio/cdcwatch/internal/permissions"
	"github.com/potooio/cdcwatch/internal/pipelines"
	"github.com/potooio/cdcwatch/internal/poller"
	"github.com/potooio/cdcwatch/internal/realtime"
	"github.com/potooio/cdcwatch/internal/restapi"
	"github.com/potooio/cdcwatch/internal/surfacing"
	"github.com/potooio/cdcwatch/internal/types"
)

// housekeepingInterval is how often expired provisional statuses and stale
// surfacing state are dropped.
const housekeepingInterval = 30 * time.Second

// ErrAlreadyStarted is returned by Start on a running Service.
var ErrAlreadyStarted = errors.New("dashboard service already started")

// Deps overrides collaborators, mainly for tests. All fields are optional.
type Deps struct {
	Logger *zap.Logger
	// Enabled is consulted before every realtime connect. Defaults to the
	// static config value.
	Enabled func() bool
	// Dialer replaces the WebSocket dialer built from the config.
	Dialer realtime.Dialer
	// HTTPClient is used for REST calls.
	HTTPClient *http.Client
}

// Service owns every dashboard component.
type Service struct {
	logger *zap.Logger
	cfg    config.Config

	Events     *eventstore.Store
	Alerts     *alerts.Log
	Correlator *alerts.Correlator
	Surfacing  *surfacing.Policy
	Pipelines  *pipelines.Tracker
	Router     *ingest.Router
	Refresher  *ingest.Refresher
	Client     *realtime.Client
	Poller     *poller.Poller
	Dispatcher *notifier.Dispatcher
	API        *api.Server

	webhook  *notifier.WebhookSender
	unlisten func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool
}

// New builds a Service from cfg. Nothing runs until Start.
func New(cfg config.Config, deps Deps) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	role, err := permissions.ParseRole(cfg.Server.Role)
	if err != nil {
		return nil, err
	}
	perms := permissions.NewRoleEvaluator(role)

	s := &Service{logger: logger.Named("dashboard"), cfg: cfg}

	s.Events = eventstore.New(eventstore.Options{
		EventCapacity:  cfg.Store.EventCapacity,
		MetricCapacity: cfg.Store.MetricCapacity,
		Logger:         logger,
	})
	s.Alerts = alerts.NewLog(cfg.Store.AlertCapacity)
	s.Correlator = alerts.NewCorrelator(s.Alerts, logger, alerts.CorrelatorOptions{
		CriticalLatency:    cfg.Alerts.CriticalLatency,
		NotificationRate:   rate.Limit(cfg.Alerts.NotificationRate),
		NotificationBurst:  cfg.Alerts.NotificationBurst,
		NotificationBuffer: cfg.Alerts.NotificationBuffer,
	})
	s.Surfacing = surfacing.NewPolicy(s.Alerts, surfacing.Options{
		MaxSurfaced: cfg.Alerts.MaxSurfaced,
		Permissions: perms,
		Logger:      logger,
	})
	s.Pipelines = pipelines.NewTracker(pipelines.Options{
		Window:             cfg.Pipelines.ProvisionalWindow,
		MaxReconciliations: cfg.Pipelines.MaxReconciliations,
		Logger:             logger,
	})

	rest, err := restapi.NewClient(restapi.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Token:      cfg.Backend.Token,
		Timeout:    cfg.Backend.Timeout,
		HTTPClient: deps.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	s.Refresher, err = ingest.NewRefresher(rest, s.Events, s.Correlator, ingest.RefresherOptions{
		Limit:       cfg.Refresh.Limit,
		Timeout:     cfg.Backend.Timeout,
		MinInterval: cfg.Refresh.MinInterval,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("refresher: %w", err)
	}
	s.Router, err = ingest.NewRouter(ingest.RouterOptions{
		Events:    s.Events,
		Alerts:    s.Correlator,
		Statuses:  s.Pipelines,
		Refresher: s.Refresher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	enabled := deps.Enabled
	if enabled == nil {
		static := cfg.Realtime.Enabled
		enabled = func() bool { return static }
	}
	header := http.Header{}
	if cfg.Backend.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Backend.Token)
	}
	s.Client, err = realtime.NewClient(realtime.Options{
		URL:                  cfg.RealtimeURL(),
		Header:               header,
		Enabled:              enabled,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		ReconnectInterval:    cfg.Realtime.ReconnectInterval,
		MaxReconnectInterval: cfg.Realtime.MaxReconnectInterval,
		MaxConsecutiveErrors: cfg.Realtime.MaxConsecutiveErrors,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		Dialer:               deps.Dialer,
		Handler:              s.Router,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime client: %w", err)
	}
	s.unlisten = s.Client.OnStatusChange(s.logStatusChange)

	s.Poller, err = poller.New(rest, s.Correlator, s.Pipelines, poller.Options{
		Interval:         cfg.Poller.Interval,
		FallbackInterval: cfg.Poller.FallbackInterval,
		Timeout:          cfg.Backend.Timeout,
		Available:        s.Client.IsAvailable,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}

	var senders []notifier.Sender
	if cfg.Notify.LogAlerts {
		senders = append(senders, notifier.NewLogSender(logger))
	}
	if cfg.Notify.WebhookURL != "" {
		s.webhook, err = notifier.NewWebhookSender(logger, notifier.WebhookSenderConfig{
			URL:                cfg.Notify.WebhookURL,
			TimeoutSeconds:     cfg.Notify.WebhookTimeoutSeconds,
			InsecureSkipVerify: cfg.Notify.WebhookInsecureSkipVerify,
			MinSeverity:        cfg.Notify.WebhookMinSeverity,
			AuthToken:          cfg.Notify.WebhookAuthToken,
			QueueSize:          cfg.Notify.WebhookQueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook sender: %w", err)
		}
		senders = append(senders, s.webhook)
	}
	s.Dispatcher = notifier.NewDispatcher(logger, notifier.DispatcherOptions{
		SuppressDuplicateMinutes: cfg.Notify.SuppressDuplicateMinutes,
		RateLimitPerMinute:       cfg.Notify.RateLimitPerMinute,
		DashboardURL:             cfg.Notify.DashboardURL,
		Senders:                  senders,
	})

	s.API = api.NewServer(api.Options{
		Log:         s.Alerts,
		Events:      s.Events,
		Policy:      s.Surfacing,
		Pipelines:   s.Pipelines,
		Connection:  s.Client,
		Poller:      s.Poller,
		Permissions: perms,
		Logger:      logger,
	})
	return s, nil
}

// Start launches the background workers, connects the realtime client and
// subscribes to the configured pipelines. It does not block.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil || s.stopped {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	s.Dispatcher.Start(gctx)
	g.Go(func() error {
		s.Dispatcher.Run(gctx, s.Correlator.Notifications())
		return nil
	})
	g.Go(func() error { return s.Refresher.Run(gctx) })
	g.Go(func() error { return s.Poller.Run(gctx) })
	g.Go(func() error {
		s.housekeeping(gctx)
		return nil
	})

	s.Client.Connect(gctx)
	for _, id := range s.cfg.Realtime.Subscriptions {
		if err := s.Client.Subscribe(id); err != nil {
			s.logger.Warn("Initial subscription deferred", zap.String("pipeline", id), zap.Error(err))
		}
	}

	s.logger.Info("Dashboard service started",
		zap.String("realtime_url", s.cfg.RealtimeURL()),
		zap.Int("subscriptions", len(s.cfg.Realtime.Subscriptions)),
	)
	return nil
}

// Stop tears everything down and waits for the workers to exit. It is
// safe to call more than once and without Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	s.unlisten()
	if cancel != nil {
		cancel()
	}
	err := s.Client.Close()
	if g != nil {
		if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			err = errors.Join(err, werr)
		}
	}
	if s.webhook != nil {
		s.webhook.Close()
	}
	s.logger.Info("Dashboard service stopped")
	return err
}

// SelectPipeline records the pipeline the operator is looking at and
// subscribes to it. Replication events then refresh this pipeline.
func (s *Service) SelectPipeline(id types.ID) error {
	s.Router.SetSelectedPipeline(id)
	if id.IsZero() {
		return nil
	}
	return s.Client.Subscribe(id.String())
}

// Handler returns an http.Handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.API.Handler()
}

func (s *Service) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := s.Pipelines.Expire()
			pruned := s.Surfacing.Prune()
			if expired > 0 || pruned > 0 {
				s.logger.Debug("Housekeeping",
					zap.Int("expired_provisional", expired),
					zap.Int("pruned_surfacing", pruned))
			}
		}
	}
}

func (s *Service) logStatusChange(c realtime.StatusChange) {
	fields := []zap.Field{
		zap.String("from", string(c.From)),
		zap.String("to", string(c.To)),
	}
	if c.Err != nil {
		fields = append(fields, zap.Error(c.Err))
	}
	if c.To == realtime.StatePermanentlyFailed {
		s.logger.Warn("Realtime connection failed permanently; falling back to polling", fields...)
		return
	}
	s.logger.Info("Realtime connection state changed", fields...)
}
