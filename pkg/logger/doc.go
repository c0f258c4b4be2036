// Package logger builds the process-wide slog.Logger: text output for dev and
// staging, JSON for prod, tagged with the service and environment.
package logger
