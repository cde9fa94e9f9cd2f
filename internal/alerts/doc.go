// Package alerts derives operator alerts from independent domain signals and
// keeps the alert log with its unread counter.
//
// # Sources
//
//   - connection: last test failed, or inactive despite having been tested.
//     Key (connectionID, lastTestedAt), severity high.
//   - pipeline: status error. Key (pipelineID, updatedAt||createdAt), severity critical.
//   - replication: event status failed or error. Key is the event ID,
//     severity critical when latency exceeds the threshold (10s), else high.
//
// # Deduplication
//
// The log is checked for the derived key before inserting, so reprocessing a
// periodic snapshot of all pipelines yields no new alerts. Malformed records
// are skipped individually; the rest of the batch is still processed.
//
// # Unread counter
//
// Incremented once per newly inserted unresolved alert, adjusted on status
// changes, removals and capacity evictions, and zeroed by MarkAllAsRead
// without touching statuses. Log.Recount recomputes it for verification.
//
// # Notifications
//
// New alerts are emitted on a buffered channel behind a token bucket. The log
// remains the source of truth; throttled alerts are only missing from the
// stream.
package alerts
