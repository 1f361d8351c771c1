// Package logging provides structured logging for the VRM cloud bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// through one configured handler.
//
// # Features
//
//   - Text output by default (container logs), JSON when configured
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Setting debug: true (or VRM_DEBUG=true) forces the debug level.
//
// # Security
//
// Never log the VRM password or the raw credential token. credential.Credential
// implements slog.LogValuer and only ever renders a redacted prefix.
package logging
