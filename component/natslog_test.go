package component

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSLogHandler_NilConnectionPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewJSONHandler(&buf, nil)

	h := NewNATSLogHandler(next, nil, "test", slog.LevelInfo)
	logger := slog.New(h)

	logger.Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "value")
}

func TestNATSLogHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewJSONHandler(&buf, nil)

	h := NewNATSLogHandler(next, nil, "test", slog.LevelInfo)

	derived := h.WithAttrs([]slog.Attr{slog.String("channel", "powertrain")})
	require.NotSame(t, slog.Handler(h), derived, "WithAttrs must clone")

	grouped := derived.WithGroup("bus")
	require.NotNil(t, grouped)

	logger := slog.New(grouped)
	logger.Warn("frame dropped", "id", 0x100)

	out := buf.String()
	assert.Contains(t, out, "powertrain")
	assert.Contains(t, out, "frame dropped")
}

func TestNATSLogHandler_Enabled(t *testing.T) {
	next := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewNATSLogHandler(next, nil, "test", slog.LevelInfo)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
