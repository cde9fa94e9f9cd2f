// Package restapi is a small client for the CDC platform's REST API, used to
// backfill replication events and to poll pipeline and connection state.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/types"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "cdcwatch/v1"

	// RequestIDHeader carries a fresh ID on every request.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 4 << 10
)

// ErrNotFound is matched by a StatusError for HTTP 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config holds the configuration for creating a Client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the CDC platform REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client. Returns an error if the base URL is invalid.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("API base URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("API base URL must include a host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    u,
		token:      cfg.Token,
		httpClient: hc,
		logger:     cfg.Logger.Named("restapi"),
	}, nil
}

// EventFilter narrows GetReplicationEvents.
type EventFilter struct {
	PipelineID types.ID
	Status     types.EventStatus
	Since      time.Time
	// Limit caps the number of events returned. Zero means server default.
	Limit int
}

func (f EventFilter) query() url.Values {
	q := url.Values{}
	if !f.PipelineID.IsZero() {
		q.Set("pipeline_id", f.PipelineID.String())
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// GetReplicationEvents returns replication events matching filter, newest first.
func (c *Client) GetReplicationEvents(ctx context.Context, filter EventFilter) ([]types.ReplicationEvent, error) {
	var events []types.ReplicationEvent
	if err := c.get(ctx, "/api/v1/replication/events", "/api/v1/replication/events", filter.query(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListPipelines returns every pipeline visible to the caller.
func (c *Client) ListPipelines(ctx context.Context) ([]types.Pipeline, error) {
	var pipelines []types.Pipeline
	if err := c.get(ctx, "/api/v1/pipelines", "/api/v1/pipelines", nil, &pipelines); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// GetPipeline returns one pipeline. A missing pipeline matches ErrNotFound.
func (c *Client) GetPipeline(ctx context.Context, id types.ID) (types.Pipeline, error) {
	var p types.Pipeline
	if err := c.get(ctx, "/api/v1/pipelines/{id}", "/api/v1/pipelines/"+url.PathEscape(id.String()), nil, &p); err != nil {
		return types.Pipeline{}, err
	}
	return p, nil
}

// ListConnections returns every database connection visible to the caller.
func (c *Client) ListConnections(ctx context.Context) ([]types.Connection, error) {
	var conns []types.Connection
	if err := c.get(ctx, "/api/v1/connections", "/api/v1/connections", nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// get decodes the JSON body of GET path into out. route labels metrics.
func (c *Client) get(ctx context.Context, route, path string, query url.Values, out any) error {
	// path is already escaped.
	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(route, "error").Inc()
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RequestID:  requestID,
		}
	}
	requestsTotal.WithLabelValues(route, "ok").Inc()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	c.logger.Debug("request completed",
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)))
	return nil
}
