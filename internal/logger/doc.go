// Package logger configures the process-wide zap logger and hands out
// named child loggers that follow later reconfiguration.
package logger
