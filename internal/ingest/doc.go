// Package ingest turns inbound realtime frames into store and correlator
// updates.
//
// The Router is the realtime.Handler for the dashboard. It decodes each frame
// by type, validates the payload and applies it:
//
//	replication_event  → event store, alert correlator, refresh trigger
//	monitoring_metric  → event store (metrics buffer)
//	pipeline_status    → pipeline status observer
//
// Invalid payloads are logged and counted, never propagated. The Refresher
// backfills events over REST on its own goroutine so the read loop never
// blocks on HTTP.
package ingest
