package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/metric"
	"github.com/evm100/TritonCAN/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is the part of a NATS subscription the bridge uses.
// *nats.Subscription satisfies it.
type Subscription interface {
	Unsubscribe() error
}

// Client manages one NATS connection
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn

	status     atomic.Int32 // ConnectionStatus
	reconnects atomic.Int32

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	retryConfig   retry.Config

	metrics      *metric.Metrics
	onDisconnect func(error)
	onReconnect  func()
}

// NewClient creates a client for the given NATS URL. The connection is
// established by Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty NATS URL", errors.ErrInvalidConfig),
			"natsclient", "NewClient", "url validation")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1, // reconnect forever; the bus outlives broker restarts
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		retryConfig:   retry.Quick(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.status.Store(int32(StatusDisconnected))
	return c, nil
}

// URL returns the configured NATS URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Conn returns the underlying NATS connection, or nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Connect establishes the connection with bounded retry.
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(int32(StatusConnecting))

	connect := func() error {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}

	if err := retry.Do(ctx, c.retryConfig, connect); err != nil {
		c.status.Store(int32(StatusDisconnected))
		return errors.WrapTransient(err, "natsclient", "Connect", "broker connect")
	}

	c.status.Store(int32(StatusConnected))
	c.setConnectedGauge(1)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

func (c *Client) connectionOptions() []nats.Option {
	return []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(int32(StatusReconnecting))
			c.setConnectedGauge(0)
			c.logger.Warn("NATS disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.reconnects.Add(1)
			c.setConnectedGauge(1)
			if c.metrics != nil {
				c.metrics.NATSReconnects.Inc()
			}
			c.logger.Info("NATS reconnected", "reconnects", c.reconnects.Load())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusClosed))
			c.setConnectedGauge(0)
		}),
	}
}

func (c *Client) setConnectedGauge(v float64) {
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(v)
	}
}

// Publish sends one message.
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "natsclient", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", fmt.Sprintf("subject %s", subject))
	}
	return nil
}

// Subscribe registers a handler for a subject.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (Subscription, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "natsclient", "Subscribe", "connection check")
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "Subscribe", fmt.Sprintf("subject %s", subject))
	}
	return sub, nil
}

// Reconnects returns the number of reconnections observed.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Close drains and closes the connection. Draining lets in-flight
// messages finish; when the context expires first the connection is
// closed hard.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Drain()
	}()

	select {
	case err := <-done:
		c.status.Store(int32(StatusClosed))
		c.setConnectedGauge(0)
		if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			return errors.WrapTransient(err, "natsclient", "Close", "drain")
		}
		return nil
	case <-ctx.Done():
		conn.Close()
		c.status.Store(int32(StatusClosed))
		c.setConnectedGauge(0)
		return errors.WrapTransient(ctx.Err(), "natsclient", "Close", "drain timeout")
	}
}
