// Package server implements the HTTP API of the worker: health and statistics,
// job dispatch and inspection, sanitized configuration, and Prometheus metrics.
package server
