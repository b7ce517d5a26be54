package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/pkg/retry"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.Conn())
}

func TestClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(5),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithDrainTimeout(3*time.Second),
		WithRetryConfig(retry.Config{MaxAttempts: 1}),
	)
	require.NoError(t, err)
	assert.Equal(t, 5, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, 2*time.Second, c.timeout)
	assert.Equal(t, 3*time.Second, c.drainTimeout)
	assert.Equal(t, 1, c.retryConfig.MaxAttempts)
}

func TestClient_OperationsWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish("subject", []byte("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.True(t, errors.IsTransient(err))

	_, err = c.Subscribe("subject", func(string, []byte) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	// Close before Connect is a no-op.
	assert.NoError(t, c.Close(context.Background()))
}

func TestClient_ConnectFailure(t *testing.T) {
	// Nothing listens on this port; bounded retry must give up.
	c, err := NewClient("nats://127.0.0.1:1",
		WithRetryConfig(retry.Config{
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
		}),
		WithTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusClosed, "closed"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.status.String())
	}
}
