// Package logger builds the process-wide slog logger: human readable text
// while developing, JSON in production.
package logger
