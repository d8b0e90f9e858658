// Package logging provides structured logging for i2c2mqtt.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level filter and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "devices", 2)
//	logger.Error("reconnect failed", "attempt", 3, "error", err)
//
// Never log broker passwords or the InfluxDB token.
package logging
