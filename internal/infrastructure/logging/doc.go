// Package logging provides structured logging for the PurrSong bridge.
//
// This package wraps Go's standard log/slog package so every component
// (coordinator, account host, discovery publisher, API) logs with the
// same shape and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("refresh accepted", "entry_id", id, "devices", n)
//
// # Security
//
// Never log PurrSong passwords, session tokens, or API secrets. Account
// e-mail addresses identify entries in logs and may be logged.
package logging
