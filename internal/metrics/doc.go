// Package metrics provides Prometheus metrics for i2c2mqtt.
//
// It exposes poll loop timings, read and publish failure counters, and
// broker session health in Prometheus format. The Registry implements
// the poll loop's Metrics hook and is served by the status HTTP server
// at /metrics.
package metrics
