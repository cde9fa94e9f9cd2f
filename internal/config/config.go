// Package config loads daemon configuration from defaults, an optional YAML
// file, .env files and CDCWATCH_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// CDCWATCH_REALTIME_ENABLED for realtime.enabled.
const EnvPrefix = "CDCWATCH"

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Store     StoreConfig     `mapstructure:"store"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener serving the API, /metrics and /healthz.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// Role is the operator role the API evaluates permissions for.
	Role string `mapstructure:"role" validate:"oneof=admin operator viewer"`
}

// BackendConfig locates the REST collaborator.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// RealtimeConfig configures the event server connection.
type RealtimeConfig struct {
	// Enabled is read again on every connect attempt; see EnabledFunc.
	Enabled bool `mapstructure:"enabled"`
	// URL defaults to the backend base URL with path /ws.
	URL                  string        `mapstructure:"url" validate:"omitempty,url"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval" validate:"gt=0"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval" validate:"gtefield=ReconnectInterval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" validate:"gte=1"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"gte=1"`
	// Subscriptions are subscribed at startup.
	Subscriptions []string `mapstructure:"subscriptions"`
}

// StoreConfig bounds the in-memory windows.
type StoreConfig struct {
	EventCapacity  int `mapstructure:"event_capacity" validate:"gte=1"`
	MetricCapacity int `mapstructure:"metric_capacity" validate:"gte=1"`
	AlertCapacity  int `mapstructure:"alert_capacity" validate:"gte=1"`
}

// AlertsConfig tunes correlation and surfacing.
type AlertsConfig struct {
	CriticalLatency    time.Duration `mapstructure:"critical_latency" validate:"gt=0"`
	NotificationRate   float64       `mapstructure:"notification_rate" validate:"gt=0"`
	NotificationBurst  int           `mapstructure:"notification_burst" validate:"gte=1"`
	NotificationBuffer int           `mapstructure:"notification_buffer" validate:"gte=1"`
	MaxSurfaced        int           `mapstructure:"max_surfaced" validate:"gte=1"`
}

// PipelinesConfig tunes provisional pipeline status.
type PipelinesConfig struct {
	ProvisionalWindow  time.Duration `mapstructure:"provisional_window" validate:"gt=0"`
	MaxReconciliations int           `mapstructure:"max_reconciliations" validate:"gte=1"`
}

// PollerConfig tunes the snapshot poller.
type PollerConfig struct {
	Interval         time.Duration `mapstructure:"interval" validate:"gt=0"`
	FallbackInterval time.Duration `mapstructure:"fallback_interval" validate:"gt=0"`
}

// RefreshConfig tunes REST backfill after replication events.
type RefreshConfig struct {
	Limit       int           `mapstructure:"limit" validate:"gte=1,lte=1000"`
	MinInterval time.Duration `mapstructure:"min_interval" validate:"gte=0"`
}

// NotifyConfig configures external alert notification.
type NotifyConfig struct {
	WebhookURL                string `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookTimeoutSeconds     int    `mapstructure:"webhook_timeout_seconds" validate:"gte=1"`
	WebhookMinSeverity        string `mapstructure:"webhook_min_severity" validate:"oneof=critical high medium low"`
	WebhookAuthToken          string `mapstructure:"webhook_auth_token"`
	WebhookInsecureSkipVerify bool   `mapstructure:"webhook_insecure_skip_verify"`
	WebhookQueueSize          int    `mapstructure:"webhook_queue_size" validate:"gte=1"`
	SuppressDuplicateMinutes  int    `mapstructure:"suppress_duplicate_minutes" validate:"gte=1"`
	RateLimitPerMinute        int    `mapstructure:"rate_limit_per_minute" validate:"gte=1"`
	// DashboardURL is linked from notification payloads.
	DashboardURL string `mapstructure:"dashboard_url" validate:"omitempty,url"`
	// LogAlerts writes every notified alert to the daemon log.
	LogAlerts bool `mapstructure:"log_alerts"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			Role:       "operator",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Realtime: RealtimeConfig{
			Enabled:              true,
			HandshakeTimeout:     10 * time.Second,
			ReconnectInterval:    time.Second,
			MaxReconnectInterval: 5 * time.Second,
			MaxConsecutiveErrors: 3,
			MaxReconnectAttempts: 5,
		},
		Store: StoreConfig{
			EventCapacity:  1000,
			MetricCapacity: 1000,
			AlertCapacity:  1000,
		},
		Alerts: AlertsConfig{
			CriticalLatency:    10 * time.Second,
			NotificationRate:   100,
			NotificationBurst:  200,
			NotificationBuffer: 1000,
			MaxSurfaced:        3,
		},
		Pipelines: PipelinesConfig{
			ProvisionalWindow:  10 * time.Second,
			MaxReconciliations: 2,
		},
		Poller: PollerConfig{
			Interval:         30 * time.Second,
			FallbackInterval: 5 * time.Second,
		},
		Refresh: RefreshConfig{
			Limit:       100,
			MinInterval: 500 * time.Millisecond,
		},
		Notify: NotifyConfig{
			WebhookTimeoutSeconds:    10,
			WebhookMinSeverity:       "high",
			WebhookQueueSize:         100,
			SuppressDuplicateMinutes: 60,
			RateLimitPerMinute:       100,
			LogAlerts:                true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// New returns a viper instance with defaults registered and environment
// lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.role", d.Server.Role)

	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.token", d.Backend.Token)
	v.SetDefault("backend.timeout", d.Backend.Timeout)

	v.SetDefault("realtime.enabled", d.Realtime.Enabled)
	v.SetDefault("realtime.url", d.Realtime.URL)
	v.SetDefault("realtime.handshake_timeout", d.Realtime.HandshakeTimeout)
	v.SetDefault("realtime.reconnect_interval", d.Realtime.ReconnectInterval)
	v.SetDefault("realtime.max_reconnect_interval", d.Realtime.MaxReconnectInterval)
	v.SetDefault("realtime.max_consecutive_errors", d.Realtime.MaxConsecutiveErrors)
	v.SetDefault("realtime.max_reconnect_attempts", d.Realtime.MaxReconnectAttempts)
	v.SetDefault("realtime.subscriptions", d.Realtime.Subscriptions)

	v.SetDefault("store.event_capacity", d.Store.EventCapacity)
	v.SetDefault("store.metric_capacity", d.Store.MetricCapacity)
	v.SetDefault("store.alert_capacity", d.Store.AlertCapacity)

	v.SetDefault("alerts.critical_latency", d.Alerts.CriticalLatency)
	v.SetDefault("alerts.notification_rate", d.Alerts.NotificationRate)
	v.SetDefault("alerts.notification_burst", d.Alerts.NotificationBurst)
	v.SetDefault("alerts.notification_buffer", d.Alerts.NotificationBuffer)
	v.SetDefault("alerts.max_surfaced", d.Alerts.MaxSurfaced)

	v.SetDefault("pipelines.provisional_window", d.Pipelines.ProvisionalWindow)
	v.SetDefault("pipelines.max_reconciliations", d.Pipelines.MaxReconciliations)

	v.SetDefault("poller.interval", d.Poller.Interval)
	v.SetDefault("poller.fallback_interval", d.Poller.FallbackInterval)

	v.SetDefault("refresh.limit", d.Refresh.Limit)
	v.SetDefault("refresh.min_interval", d.Refresh.MinInterval)

	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("notify.webhook_timeout_seconds", d.Notify.WebhookTimeoutSeconds)
	v.SetDefault("notify.webhook_min_severity", d.Notify.WebhookMinSeverity)
	v.SetDefault("notify.webhook_auth_token", d.Notify.WebhookAuthToken)
	v.SetDefault("notify.webhook_insecure_skip_verify", d.Notify.WebhookInsecureSkipVerify)
	v.SetDefault("notify.webhook_queue_size", d.Notify.WebhookQueueSize)
	v.SetDefault("notify.suppress_duplicate_minutes", d.Notify.SuppressDuplicateMinutes)
	v.SetDefault("notify.rate_limit_per_minute", d.Notify.RateLimitPerMinute)
	v.SetDefault("notify.dashboard_url", d.Notify.DashboardURL)
	v.SetDefault("notify.log_alerts", d.Notify.LogAlerts)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are skipped; variables already set are
// not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configFile (optional) into v and returns the validated config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects nonsensical values.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RealtimeURL returns the configured event server URL, or the backend base
// URL with its path replaced by /ws.
func (c Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

// EnabledFunc returns a func reporting realtime.enabled as currently
// resolved by v. Environment changes take effect on the next connect.
func EnabledFunc(v *viper.Viper) func() bool {
	return func() bool {
		return v.GetBool("realtime.enabled")
	}
}
