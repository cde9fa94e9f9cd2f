// Package eventstore holds the bounded, deduplicated window of replication
// events and monitoring metrics received from the event server.
//
// # Deduplication
//
// Delivery is at-least-once. Events are keyed by ID and the first delivery
// wins: a redelivery with different fields is dropped, never merged. The batch
// path (AddEvents) is the singular path applied in order, so both produce the
// same window for the same input.
//
// # Bounds
//
// Both windows default to 1000 entries, newest-first, evicting the oldest on
// overflow. Metrics are append-only and never deduplicated.
//
// Readers get copies; a snapshot never observes a partially applied batch.
package eventstore
