// Package sinks implements lifecycle event consumers: structured logs,
// Prometheus collectors, the activity store, and a message publisher.
package sinks
