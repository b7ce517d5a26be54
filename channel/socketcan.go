package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
)

// socketCANBus adapts a SocketCAN interface to the Bus contract. A pump
// goroutine owns the blocking receiver and feeds frames into a channel so
// Receive can honor its timeout; Close unblocks the pump by closing the
// underlying connection.
//
// The kernel-level CAN_RAW_FILTER option is not exposed by the transport
// library, so acceptance filters are applied in the pump before frames
// reach the service. Link parameters (bitrate, FD data bitrate) are
// interface properties configured outside the process (ip link); the
// loader validates and carries them, the adapter does not reconfigure the
// link.
type socketCANBus struct {
	conn    net.Conn
	recv    *socketcan.Receiver
	tx      *socketcan.Transmitter
	frames  chan can.Frame
	filters atomic.Pointer[[]config.FilterConfig]

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenSocketCAN dials the named SocketCAN interface (e.g. "can0",
// "vcan0") and starts its receive pump.
func OpenSocketCAN(ctx context.Context, iface string) (Bus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: interface %s: %v", errors.ErrChannelOpen, iface, err),
			"socketcan", "OpenSocketCAN", "dial")
	}

	b := &socketCANBus{
		conn:   conn,
		recv:   socketcan.NewReceiver(conn),
		tx:     socketcan.NewTransmitter(conn),
		frames: make(chan can.Frame, 256),
		closed: make(chan struct{}),
	}
	go b.pump()
	return b, nil
}

// DefaultOpener returns the production Opener backed by SocketCAN.
func DefaultOpener() Opener {
	return OpenerFunc(func(ctx context.Context, cfg config.ChannelConfig) (Bus, error) {
		return OpenSocketCAN(ctx, cfg.Interface)
	})
}

// pump reads frames from the kernel until the connection closes.
func (b *socketCANBus) pump() {
	defer close(b.frames)
	for b.recv.Receive() {
		frame := b.recv.Frame()
		if !b.accept(frame) {
			continue
		}
		select {
		case b.frames <- frame:
		case <-b.closed:
			return
		}
	}
}

// accept applies the installed acceptance filters
func (b *socketCANBus) accept(frame can.Frame) bool {
	filters := b.filters.Load()
	if filters == nil || len(*filters) == 0 {
		return true
	}
	for _, f := range *filters {
		if frame.ID&f.Mask == f.ID&f.Mask {
			return true
		}
	}
	return false
}

// Send implements Bus
func (b *socketCANBus) Send(frame can.Frame) error {
	select {
	case <-b.closed:
		return errors.ErrBusClosed
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.tx.TransmitFrame(ctx, frame); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrTransmitFailed, err),
			"socketcan", "Send", "frame transmit")
	}
	return nil
}

// Receive implements Bus
func (b *socketCANBus) Receive(timeout time.Duration) (can.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-b.frames:
		if !ok {
			return can.Frame{}, errors.ErrBusClosed
		}
		return frame, nil
	case <-b.closed:
		return can.Frame{}, errors.ErrBusClosed
	case <-timer.C:
		return can.Frame{}, errors.ErrReceiveTimeout
	}
}

// SetFilters implements Bus
func (b *socketCANBus) SetFilters(filters []config.FilterConfig) error {
	b.filters.Store(&filters)
	return nil
}

// Close implements Bus
func (b *socketCANBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		// Closing the connection unblocks the pump's blocking read.
		err = b.conn.Close()
	})
	return err
}
