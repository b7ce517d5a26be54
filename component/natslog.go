package component

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// LogEntry is the JSON document published for each mirrored log record.
type LogEntry struct {
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// NATSLogHandler is a slog.Handler that forwards records at or above a
// minimum level to a NATS subject ("tritoncan.logs.<source>") in addition
// to a wrapped local handler. Publishing is best effort: a lost broker
// never blocks or fails logging.
type NATSLogHandler struct {
	next   slog.Handler
	nc     *nats.Conn
	source string
	level  slog.Level
	attrs  []slog.Attr
}

// NewNATSLogHandler wraps next with NATS mirroring. A nil connection
// disables mirroring, leaving next untouched.
func NewNATSLogHandler(next slog.Handler, nc *nats.Conn, source string, level slog.Level) *NATSLogHandler {
	return &NATSLogHandler{
		next:   next,
		nc:     nc,
		source: source,
		level:  level,
	}
}

// Enabled implements slog.Handler
func (h *NATSLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *NATSLogHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.next.Handle(ctx, record)

	if h.nc == nil || record.Level < h.level {
		return err
	}

	entry := LogEntry{
		Timestamp: record.Time.UTC().Format(time.RFC3339Nano),
		Level:     record.Level.String(),
		Source:    h.source,
		Message:   record.Message,
	}

	attrs := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}

	data, merr := json.Marshal(entry)
	if merr != nil {
		return err
	}

	subject := fmt.Sprintf("tritoncan.logs.%s", h.source)
	// Best effort only; the local handler already recorded the entry.
	_ = h.nc.Publish(subject, data)
	return err
}

// WithAttrs implements slog.Handler
func (h *NATSLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler
func (h *NATSLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}
