// Package component defines the lifecycle contract shared by the bridge's
// long-running pieces, plus health reporting types and an optional
// slog.Handler that mirrors log records to a NATS subject.
package component
