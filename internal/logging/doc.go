// Package logging provides structured logging for txcore.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/txcore/txcore.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Log Levels
//
// Four log levels are supported:
//
//	logger.Debug("detailed debugging info", "key", "value")
//	logger.Info("informational message", "key", "value")
//	logger.Warn("warning message", "key", "value")
//	logger.Error("error message", "key", "value")
//
// Parse level from string:
//
//	level := logging.ParseLevel("debug") // Returns LevelDebug
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Info("transaction committed",
//	    "txid", txid,
//	    "dirty_pages", len(flushed),
//	)
//
// Output (JSON format):
//
//	{
//	    "ts": "2026-02-18T10:30:00Z",
//	    "level": "info",
//	    "msg": "transaction committed",
//	    "txid": 42,
//	    "dirty_pages": 3
//	}
//
// # Contextual Fields
//
// Create loggers with persistent fields:
//
//	dbLogger := logger.WithFields(
//	    "instance", db.InstanceID().String(),
//	)
//
//	// All subsequent logs include these fields
//	dbLogger.Info("recovery complete")
//	dbLogger.Info("checkpoint complete")
//
// # Output Formats
//
// Text format (human-readable):
//
//	2026-02-18T10:30:00Z [info] transaction committed txid=42 dirty_pages=3
//
// JSON format (machine-parseable):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"transaction committed",...}
//
// # Output Destinations
//
// Configure output destination:
//
//	logging.Config{Output: "stdout"}              // Standard output
//	logging.Config{Output: "stderr"}              // Standard error
//	logging.Config{Output: "/var/log/txcore.log"} // File path
package logging
