// Package progress carries crawl lifecycle events from the orchestrator to
// pluggable sinks. Emitting never blocks: events are buffered, batched on a
// background goroutine, and fanned out to sinks such as logs, Prometheus,
// the activity store, and Pub/Sub.
package progress
