package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/types"
)

const (
	defaultWebhookTimeout   = 10 * time.Second
	defaultWebhookWorkers   = 3
	defaultWebhookQueueSize = 100
	defaultRetryBackoff     = time.Second
	maxRetryBackoff         = 30 * time.Second
	webhookUserAgent        = "cdcwatch/v1"
	envelopeType            = "cdcwatch.alert"

	// IdempotencyKeyHeader carries the alert's dedup key. Every attempt for
	// the same alert sends the same value, so receivers can discard repeats.
	IdempotencyKeyHeader = "Idempotency-Key"
	// AttemptHeader is the 1-based delivery attempt for the alert.
	AttemptHeader = "X-Cdcwatch-Attempt"
)

// ErrQueueFull is returned by Send when every queued alert is at least as
// severe as the one offered.
var ErrQueueFull = errors.New("webhook queue full")

// deliveryAttempts is the attempt budget per alert severity.
var deliveryAttempts = map[types.Severity]int{
	types.SeverityCritical: 5,
	types.SeverityHigh:     3,
	types.SeverityMedium:   2,
	types.SeverityLow:      1,
}

func attemptsFor(severity string) int {
	if n, ok := deliveryAttempts[types.Severity(severity)]; ok {
		return n
	}
	return 1
}

// WebhookEnvelope is the JSON body POSTed for each alert.
type WebhookEnvelope struct {
	Type          string `json:"type"`
	SchemaVersion string `json:"schemaVersion"`
	// Timestamp is when the alert left the queue, RFC3339.
	Timestamp string       `json:"timestamp"`
	Data      AlertPayload `json:"data"`
}

// WebhookSender delivers alerts to an HTTP endpoint. Alerts wait in a
// severity-ordered queue; critical alerts are delivered first, retried
// longest and may displace queued lower-severity alerts when the queue is
// full.
type WebhookSender struct {
	client      *http.Client
	logger      *zap.Logger
	url         string
	authToken   string
	minSeverity types.Severity
	backoff     time.Duration
	workers     int
	queue       *alertQueue
	wg          sync.WaitGroup
}

// WebhookSenderConfig holds the configuration for creating a WebhookSender.
type WebhookSenderConfig struct {
	URL                string
	TimeoutSeconds     int
	InsecureSkipVerify bool
	// MinSeverity is the lowest severity delivered. Default: high.
	MinSeverity string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	// QueueSize bounds undelivered alerts. Default: 100.
	QueueSize int
	// Workers is the number of concurrent deliveries. Default: 3.
	Workers int
	// RetryBackoff is the delay before the first retry. It doubles on each
	// retry up to 30s. A Retry-After header takes precedence. Default: 1s.
	RetryBackoff time.Duration
}

// NewWebhookSender creates a WebhookSender. Returns an error if the URL or
// minimum severity is invalid.
func NewWebhookSender(logger *zap.Logger, cfg WebhookSenderConfig) (*WebhookSender, error) {
	if err := validateWebhookURL(cfg.URL); err != nil {
		return nil, err
	}
	minSev, err := parseMinSeverity(cfg.MinSeverity)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultWebhookQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWebhookWorkers
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user-configured
		logger.Warn("Webhook TLS certificate verification is disabled",
			zap.String("url", RedactURL(cfg.URL)))
	}

	return &WebhookSender{
		client:      &http.Client{Timeout: timeout, Transport: transport},
		logger:      logger.Named("webhook-sender"),
		url:         cfg.URL,
		authToken:   cfg.AuthToken,
		minSeverity: minSev,
		backoff:     cfg.RetryBackoff,
		workers:     cfg.Workers,
		queue:       newAlertQueue(cfg.QueueSize),
	}, nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", u.Scheme)
	case u.Host == "":
		return errors.New("webhook URL must include a host")
	}
	return nil
}

func parseMinSeverity(s string) (types.Severity, error) {
	if s == "" {
		return types.SeverityHigh, nil
	}
	sev := types.Severity(s)
	if _, ok := deliveryAttempts[sev]; !ok {
		return "", fmt.Errorf("unknown webhook min severity %q", s)
	}
	return sev, nil
}

// Name implements Sender.
func (ws *WebhookSender) Name() string { return "webhook" }

// ShouldSend implements Sender. Unknown severities are never delivered.
func (ws *WebhookSender) ShouldSend(severity types.Severity) bool {
	if _, ok := deliveryAttempts[severity]; !ok {
		return false
	}
	return severity.Rank() >= ws.minSeverity.Rank()
}

// Start implements Sender.
func (ws *WebhookSender) Start(ctx context.Context) {
	for range ws.workers {
		ws.wg.Add(1)
		go ws.worker(ctx)
	}
	ws.logger.Info("Webhook sender started",
		zap.String("url", RedactURL(ws.url)),
		zap.Int("workers", ws.workers),
		zap.String("min_severity", string(ws.minSeverity)),
	)
}

// Close waits for the workers to deliver what was queued. Call after the
// context passed to Start is cancelled.
func (ws *WebhookSender) Close() {
	ws.wg.Wait()
}

// Send implements Sender. It queues p for delivery. A payload for an alert
// that is still queued replaces the queued one.
func (ws *WebhookSender) Send(ctx context.Context, p AlertPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, dropped := ws.queue.push(p)
	webhookQueueDepth.Set(float64(ws.queue.len()))

	switch res {
	case coalesced:
		webhookSendTotal.WithLabelValues("coalesced").Inc()
	case evictedLower:
		webhookSendTotal.WithLabelValues("evicted").Inc()
		ws.logger.Warn("Webhook queue full, dropped a lower-severity alert",
			zap.String("dropped_alert_id", dropped.AlertID),
			zap.String("dropped_severity", dropped.Severity),
			zap.String("alert_id", p.AlertID),
			zap.String("severity", p.Severity),
		)
	case rejected:
		webhookSendTotal.WithLabelValues("dropped").Inc()
		ws.logger.Warn("Webhook queue full, dropping alert",
			zap.String("alert_id", p.AlertID),
			zap.String("severity", p.Severity),
		)
		return fmt.Errorf("alert %s: %w", p.AlertID, ErrQueueFull)
	}
	return nil
}

func (ws *WebhookSender) worker(ctx context.Context) {
	defer ws.wg.Done()
	for {
		select {
		case <-ctx.Done():
			ws.drain()
			return
		case <-ws.queue.ready:
			p, ok := ws.queue.pop()
			if !ok {
				continue
			}
			webhookQueueDepth.Set(float64(ws.queue.len()))
			if ctx.Err() != nil {
				ws.finalAttempt(p, 1)
				continue
			}
			ws.deliver(ctx, p)
		}
	}
}

// drain makes one attempt for every alert still queued.
func (ws *WebhookSender) drain() {
	for {
		p, ok := ws.queue.pop()
		if !ok {
			webhookQueueDepth.Set(0)
			return
		}
		ws.finalAttempt(p, 1)
	}
}

// deliver posts p until it is accepted, fails permanently or exhausts the
// attempt budget of its severity. If ctx ends first, one last attempt is
// made outside it.
func (ws *WebhookSender) deliver(ctx context.Context, p AlertPayload) {
	budget := attemptsFor(p.Severity)
	backoff := ws.backoff
	for attempt := 1; ; attempt++ {
		err := ws.post(ctx, p, attempt)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			ws.finalAttempt(p, attempt+1)
			return
		}
		if !isRetryable(err) || attempt >= budget {
			webhookSendTotal.WithLabelValues("error").Inc()
			ws.logger.Error("Webhook delivery failed",
				zap.String("url", RedactURL(ws.url)),
				zap.String("alert_id", p.AlertID),
				zap.String("severity", p.Severity),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		wait := retryAfter(err)
		if wait == 0 {
			wait = backoff
			backoff = min(backoff*2, maxRetryBackoff)
		}
		webhookSendTotal.WithLabelValues("retry").Inc()
		ws.logger.Debug("Webhook delivery will be retried",
			zap.String("alert_id", p.AlertID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			ws.finalAttempt(p, attempt+1)
			return
		}
	}
}

// finalAttempt posts p once, bounded by the client timeout, for use during
// shutdown.
func (ws *WebhookSender) finalAttempt(p AlertPayload, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
	defer cancel()
	if err := ws.post(ctx, p, attempt); err != nil {
		webhookSendTotal.WithLabelValues("error").Inc()
		ws.logger.Warn("Webhook delivery failed during shutdown",
			zap.String("url", RedactURL(ws.url)),
			zap.String("alert_id", p.AlertID),
			zap.Error(err),
		)
	}
}

// post executes a single POST of p.
func (ws *WebhookSender) post(ctx context.Context, p AlertPayload, attempt int) error {
	body, err := json.Marshal(WebhookEnvelope{
		Type:          envelopeType,
		SchemaVersion: PayloadSchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          p,
	})
	if err != nil {
		return &webhookError{err: fmt.Errorf("marshal webhook payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return &webhookError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set(IdempotencyKeyHeader, p.AlertID)
	req.Header.Set(AttemptHeader, strconv.Itoa(attempt))
	if ws.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ws.authToken)
	}

	start := time.Now()
	resp, err := ws.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		webhookSendDuration.WithLabelValues("error").Observe(duration)
		return &webhookError{err: err, retryable: true}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		webhookSendTotal.WithLabelValues("success").Inc()
		webhookSendDuration.WithLabelValues("success").Observe(duration)
		return nil
	}

	webhookSendDuration.WithLabelValues("error").Observe(duration)
	return &webhookError{
		err:        fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
		retryable:  retryableStatus(resp.StatusCode),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// parseRetryAfter reads a delay-seconds Retry-After value, capped at
// maxRetryBackoff. HTTP-date values are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryBackoff)
}

type webhookError struct {
	err        error
	retryable  bool
	retryAfter time.Duration
}

func (e *webhookError) Error() string { return e.err.Error() }
func (e *webhookError) Unwrap() error { return e.err }

// isRetryable reports whether err is transient. Errors not produced by post
// are treated as transient.
func isRetryable(err error) bool {
	var we *webhookError
	if errors.As(err, &we) {
		return we.retryable
	}
	return true
}

func retryAfter(err error) time.Duration {
	var we *webhookError
	if errors.As(err, &we) {
		return we.retryAfter
	}
	return 0
}

// RedactURL masks the userinfo password and every query value of a URL for
// logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "REDACTED")
		}
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
