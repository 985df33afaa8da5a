// Package logging provides structured logging for the bridge daemon.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Features
//
//   - Text output by default, JSON for log collectors
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout
//
// The -d flag (or debug: true) forces the debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected", "broker", "localhost:8883")
//
// Never log broker passwords or the InfluxDB token.
package logging
