// Package api provides the status HTTP server for i2c2mqtt.
//
// Routes:
//
//	GET /health   JSON health of the broker session and telemetry sinks
//	GET /metrics  Prometheus exposition
//
// The server is optional and enabled by metrics.enabled in config.yaml.
// Every request carries an X-Request-ID (echoed from the client or
// generated) and is logged with method, path, status and duration.
package api
