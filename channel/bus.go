package channel

import (
	"context"
	"time"

	"go.einride.tech/can"

	"github.com/evm100/TritonCAN/config"
)

// Bus is one open CAN transport handle.
//
// Receive must return within roughly the given timeout even when no
// frame arrives, so callers can poll a stop flag; it reports
// errors.ErrReceiveTimeout in that case and errors.ErrBusClosed once the
// bus is closed. Send may be called concurrently with Receive but
// implementations are not required to serialize concurrent senders; the
// channel service does that.
type Bus interface {
	// Send transmits one frame
	Send(frame can.Frame) error

	// Receive waits up to timeout for the next inbound frame
	Receive(timeout time.Duration) (can.Frame, error)

	// SetFilters installs acceptance filters; frames not matching any
	// filter are dropped before delivery
	SetFilters(filters []config.FilterConfig) error

	// Close releases the transport. Further Send/Receive return
	// errors.ErrBusClosed. Safe to call multiple times.
	Close() error
}

// Opener opens the transport for a configured channel. The production
// implementation dials SocketCAN; tests substitute an in-memory bus or a
// failing opener.
type Opener interface {
	Open(ctx context.Context, cfg config.ChannelConfig) (Bus, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, cfg config.ChannelConfig) (Bus, error)

// Open implements Opener
func (f OpenerFunc) Open(ctx context.Context, cfg config.ChannelConfig) (Bus, error) {
	return f(ctx, cfg)
}
