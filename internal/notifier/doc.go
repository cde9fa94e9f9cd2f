// Package notifier forwards newly raised alerts to external channels.
//
// # Contract
//
// The Dispatcher:
//  1. Receives alerts from the correlator's notification stream (Run) or
//     directly (Dispatch)
//  2. Suppresses an alert ID already forwarded within the duplicate window
//     (default 60 minutes)
//  3. Rate limits per alert source and source ID (default 100/minute).
//     Excess alerts are dropped with a metric increment
//  4. Builds an AlertPayload and hands it to every Sender whose severity
//     threshold admits it
//
// Senders own delivery. WebhookSender POSTs a JSON envelope from a small
// worker pool with bounded retries; LogSender writes a structured log line.
//
// # Types
//
//	type Dispatcher struct { ... }
//	func NewDispatcher(logger *zap.Logger, opts DispatcherOptions) *Dispatcher
//	func (d *Dispatcher) Dispatch(ctx context.Context, a types.Alert) Outcome
//	func (d *Dispatcher) Run(ctx context.Context, alerts <-chan types.Alert)
//
// # Webhook envelope
//
//	{"type":"cdcwatch.alert","schemaVersion":"1","timestamp":"...","data":{AlertPayload}}
package notifier
