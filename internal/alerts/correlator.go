package alerts

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/potooio/cdcwatch/internal/types"
)

// ErrMalformedRecord is returned by derivations for records missing the
// fields their dedup key is built from.
var ErrMalformedRecord = errors.New("malformed record")

// CorrelatorOptions configures the Correlator.
type CorrelatorOptions struct {
	// CriticalLatency is the latency above which a failed replication event
	// raises a critical rather than high alert. Default: 10s.
	CriticalLatency time.Duration

	// NotificationRate limits how many new alerts per second are emitted on
	// Notifications(). Alerts over the limit are still logged. Default: 100.
	NotificationRate rate.Limit

	// NotificationBurst is the token bucket burst. Default: 200.
	NotificationBurst int

	// NotificationBuffer is the capacity of the Notifications() channel. Default: 1000.
	NotificationBuffer int

	// Now returns the current time; used for alerts whose fact carries no timestamp.
	Now func() time.Time
}

// DefaultCorrelatorOptions returns sensible defaults.
func DefaultCorrelatorOptions() CorrelatorOptions {
	return CorrelatorOptions{
		CriticalLatency:    10 * time.Second,
		NotificationRate:   100,
		NotificationBurst:  200,
		NotificationBuffer: 1000,
		Now:                time.Now,
	}
}

// Correlator derives alerts from connection, pipeline and replication signals
// and records them in a Log. Each derived alert is keyed by its underlying
// fact; the log is checked before inserting so periodic re-observation of the
// same snapshot never multiplies alerts.
type Correlator struct {
	logger        *zap.Logger
	log           *Log
	opts          CorrelatorOptions
	limiter       *rate.Limiter
	notifications chan types.Alert
}

// NewCorrelator creates a Correlator writing to log.
func NewCorrelator(log *Log, logger *zap.Logger, opts CorrelatorOptions) *Correlator {
	defaults := DefaultCorrelatorOptions()
	if opts.CriticalLatency <= 0 {
		opts.CriticalLatency = defaults.CriticalLatency
	}
	if opts.NotificationRate <= 0 {
		opts.NotificationRate = defaults.NotificationRate
	}
	if opts.NotificationBurst <= 0 {
		opts.NotificationBurst = defaults.NotificationBurst
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = defaults.NotificationBuffer
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		logger:        logger.Named("correlator"),
		log:           log,
		opts:          opts,
		limiter:       rate.NewLimiter(opts.NotificationRate, opts.NotificationBurst),
		notifications: make(chan types.Alert, opts.NotificationBuffer),
	}
}

// Log returns the alert log the correlator writes to.
func (c *Correlator) Log() *Log {
	return c.log
}

// Notifications returns the stream of newly inserted alerts.
func (c *Correlator) Notifications() <-chan types.Alert {
	return c.notifications
}

// ObserveConnections derives alerts from a snapshot of connections. Malformed
// records are skipped; the rest of the batch is still processed. Returns the
// number of newly inserted alerts.
func (c *Correlator) ObserveConnections(conns []types.Connection) int {
	inserted := 0
	for _, conn := range conns {
		a, ok, err := c.deriveConnection(conn)
		if err != nil {
			c.skipMalformed(types.AlertSourceConnection, conn.ID, err)
			continue
		}
		if ok && c.insert(a) {
			inserted++
		}
	}
	return inserted
}

// ObservePipelines derives alerts from a snapshot of pipelines.
func (c *Correlator) ObservePipelines(pipelines []types.Pipeline) int {
	inserted := 0
	for _, p := range pipelines {
		a, ok, err := c.derivePipeline(p)
		if err != nil {
			c.skipMalformed(types.AlertSourcePipeline, p.ID, err)
			continue
		}
		if ok && c.insert(a) {
			inserted++
		}
	}
	return inserted
}

// ObserveReplicationEvent derives an alert from a single replication event.
// Returns true if a new alert was inserted.
func (c *Correlator) ObserveReplicationEvent(e types.ReplicationEvent) bool {
	a, ok, err := c.deriveReplication(e)
	if err != nil {
		c.skipMalformed(types.AlertSourceReplication, e.ID, err)
		return false
	}
	return ok && c.insert(a)
}

// ObserveReplicationEvents derives alerts from a batch of replication events.
func (c *Correlator) ObserveReplicationEvents(events []types.ReplicationEvent) int {
	inserted := 0
	for _, e := range events {
		if c.ObserveReplicationEvent(e) {
			inserted++
		}
	}
	return inserted
}

// UpdateAlertStatus forwards to the log.
func (c *Correlator) UpdateAlertStatus(id string, status types.AlertStatus) bool {
	return c.log.UpdateStatus(id, status)
}

// MarkAllAsRead forwards to the log.
func (c *Correlator) MarkAllAsRead() {
	c.log.MarkAllAsRead()
}

// RemoveAlert forwards to the log.
func (c *Correlator) RemoveAlert(id string) bool {
	return c.log.Remove(id)
}

// deriveConnection raises a high-severity alert for a connection whose last
// test failed, or which is inactive even though it has been tested.
func (c *Correlator) deriveConnection(conn types.Connection) (types.Alert, bool, error) {
	failed := conn.LastTestStatus == types.ConnectionTestFailed
	inactive := !conn.IsActive && conn.LastTestedAt != nil
	if !failed && !inactive {
		return types.Alert{}, false, nil
	}
	if conn.ID.IsZero() {
		return types.Alert{}, false, fmt.Errorf("connection without id: %w", ErrMalformedRecord)
	}

	// A failed test without a timestamp still alerts, once per connection.
	key := UntestedConnectionKey(conn.ID)
	ts := c.opts.Now()
	if conn.LastTestedAt != nil && !conn.LastTestedAt.IsZero() {
		key = ConnectionKey(conn.ID, *conn.LastTestedAt)
		ts = *conn.LastTestedAt
	}

	name := displayName(conn.Name, conn.ID)
	message := fmt.Sprintf("Connection %q failed its last connectivity test", name)
	if !failed {
		message = fmt.Sprintf("Connection %q is inactive", name)
	}
	return types.Alert{
		ID:         key,
		Type:       types.AlertTypeError,
		Source:     types.AlertSourceConnection,
		SourceID:   conn.ID,
		SourceName: conn.Name,
		Message:    message,
		Details:    connectionDetails(conn),
		Timestamp:  ts,
		Status:     types.AlertStatusUnresolved,
		Severity:   types.SeverityHigh,
	}, true, nil
}

// derivePipeline raises a critical alert for a pipeline in the error state,
// keyed by the revision (updatedAt, else createdAt) at which it was observed.
func (c *Correlator) derivePipeline(p types.Pipeline) (types.Alert, bool, error) {
	if p.Status != types.PipelineStatusError {
		return types.Alert{}, false, nil
	}
	if p.ID.IsZero() {
		return types.Alert{}, false, fmt.Errorf("pipeline without id: %w", ErrMalformedRecord)
	}
	changed := p.ChangedAt()
	if changed.IsZero() {
		return types.Alert{}, false, fmt.Errorf("pipeline %s has no created or updated timestamp: %w", p.ID, ErrMalformedRecord)
	}

	return types.Alert{
		ID:         PipelineKey(p.ID, changed),
		Type:       types.AlertTypeError,
		Source:     types.AlertSourcePipeline,
		SourceID:   p.ID,
		SourceName: p.Name,
		Message:    fmt.Sprintf("Pipeline %q is in error state", displayName(p.Name, p.ID)),
		Details:    p.LastError,
		Timestamp:  changed,
		Status:     types.AlertStatusUnresolved,
		Severity:   types.SeverityCritical,
	}, true, nil
}

// deriveReplication raises an alert for a failed replication event; critical
// when the event was also slow.
func (c *Correlator) deriveReplication(e types.ReplicationEvent) (types.Alert, bool, error) {
	if !e.Status.IsFailure() {
		return types.Alert{}, false, nil
	}
	if e.ID.IsZero() {
		return types.Alert{}, false, fmt.Errorf("replication event without id: %w", ErrMalformedRecord)
	}

	severity := types.SeverityHigh
	if e.Latency() > c.opts.CriticalLatency {
		severity = types.SeverityCritical
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = c.opts.Now()
	}
	table := e.TableName
	if table == "" {
		table = "unknown table"
	}
	kind := e.EventType
	if kind == "" {
		kind = "change"
	}

	details := e.Error
	if e.LatencyMs != nil {
		latency := fmt.Sprintf("latency %.0fms", *e.LatencyMs)
		if details == "" {
			details = latency
		} else {
			details = details + "; " + latency
		}
	}

	return types.Alert{
		ID:         ReplicationKey(e.ID),
		Type:       types.AlertTypeError,
		Source:     types.AlertSourceReplication,
		SourceID:   e.PipelineID,
		SourceName: table,
		Message:    fmt.Sprintf("Replication %s event %s on %s", kind, e.Status, table),
		Details:    details,
		Timestamp:  ts,
		Status:     types.AlertStatusUnresolved,
		Severity:   severity,
	}, true, nil
}

// insert adds a to the log and, if it was new, emits it on the notification
// stream subject to the rate limit.
func (c *Correlator) insert(a types.Alert) bool {
	if !c.log.Add(a) {
		alertsSkippedTotal.WithLabelValues(string(a.Source), "duplicate").Inc()
		return false
	}
	alertsCreatedTotal.WithLabelValues(string(a.Source), string(a.Severity)).Inc()
	c.logger.Info("Alert raised",
		zap.String("id", a.ID),
		zap.String("source", string(a.Source)),
		zap.String("severity", string(a.Severity)),
	)

	if !c.limiter.Allow() {
		notificationsDroppedTotal.WithLabelValues("rate_limited").Inc()
		c.logger.Debug("Alert notification rate limited", zap.String("id", a.ID))
		return true
	}
	select {
	case c.notifications <- a:
	default:
		notificationsDroppedTotal.WithLabelValues("buffer_full").Inc()
		c.logger.Warn("Alert notification channel full, dropping notification", zap.String("id", a.ID))
	}
	return true
}

func (c *Correlator) skipMalformed(source types.AlertSource, id types.ID, err error) {
	alertsSkippedTotal.WithLabelValues(string(source), "malformed").Inc()
	c.logger.Warn("Skipping malformed record",
		zap.String("source", string(source)),
		zap.String("id", id.String()),
		zap.Error(err),
	)
}

func displayName(name string, id types.ID) string {
	if name != "" {
		return name
	}
	return id.String()
}

func connectionDetails(conn types.Connection) string {
	switch {
	case conn.DatabaseType != "" && conn.Role != "":
		return fmt.Sprintf("%s %s connection", conn.DatabaseType, conn.Role)
	case conn.DatabaseType != "":
		return conn.DatabaseType + " connection"
	default:
		return ""
	}
}
