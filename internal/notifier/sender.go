package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/potooio/cdcwatch/internal/types"
)

// Sender is the interface for external notification channels (webhook, log, etc.).
// Each implementation handles its own async delivery, retry logic, and filtering.
type Sender interface {
	// Name returns the sender's identifier (e.g., "webhook", "log").
	Name() string

	// Send delivers an alert payload to the external channel.
	Send(ctx context.Context, p AlertPayload) error

	// ShouldSend returns true if this sender should handle an alert at the given severity.
	ShouldSend(severity types.Severity) bool

	// Start begins any background workers. Non-blocking.
	Start(ctx context.Context)
}

// LogSender writes every alert it receives to a structured logger. It is the
// always-on channel when no webhook is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("alert-log")}
}

// Name implements Sender.
func (l *LogSender) Name() string { return "log" }

// ShouldSend implements Sender.
func (l *LogSender) ShouldSend(types.Severity) bool { return true }

// Start implements Sender.
func (l *LogSender) Start(context.Context) {}

// Send implements Sender.
func (l *LogSender) Send(_ context.Context, p AlertPayload) error {
	l.logger.Info(p.Message,
		zap.String("alert_id", p.AlertID),
		zap.String("source", p.Source),
		zap.String("source_id", p.SourceID),
		zap.String("severity", p.Severity),
	)
	return nil
}
