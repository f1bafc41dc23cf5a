// Package metrics defines the metrics payloads emitted by agent sessions, the
// usage collector that accumulates them, and the Prometheus collectors exposed
// on the worker's /metrics endpoint.
package metrics
