// Package metrics provides Prometheus metrics for ducking jobs and the HTTP API.
package metrics
