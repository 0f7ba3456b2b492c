// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. All output goes to stderr so that stdout stays free
// for sandbox command output and the MCP stdio transport.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("sandbox opened", zap.String("image", "alpine:latest"))
package logger
