// Package logging provides structured logging for PressBench Core.
//
// It wraps log/slog with configuration-driven level and format selection
// and stamps every record with the service name and version.
package logging
