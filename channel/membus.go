package channel

import (
	"sync"
	"time"

	"go.einride.tech/can"

	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
)

// MemoryBus is an in-memory Bus for tests and loopback deployments.
// Frames sent with Send are recorded; frames injected with Inject are
// delivered to Receive, subject to any installed filters.
type MemoryBus struct {
	mu      sync.Mutex
	sent    []can.Frame
	filters []config.FilterConfig
	inbox   chan can.Frame
	closed  chan struct{}
	once    sync.Once

	// SendErr, when set, is returned by every Send. Lets tests simulate
	// bus write failures.
	SendErr error
}

// NewMemoryBus creates a MemoryBus with the given inbound capacity.
func NewMemoryBus(capacity int) *MemoryBus {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryBus{
		inbox:  make(chan can.Frame, capacity),
		closed: make(chan struct{}),
	}
}

// Inject queues an inbound frame as if it arrived from the wire.
// Returns false if the bus is closed, the frame was filtered out, or the
// inbox is full.
func (b *MemoryBus) Inject(frame can.Frame) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	if !b.accept(frame) {
		return false
	}
	select {
	case b.inbox <- frame:
		return true
	default:
		return false
	}
}

// Sent returns a copy of all frames transmitted so far.
func (b *MemoryBus) Sent() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *MemoryBus) accept(frame can.Frame) bool {
	b.mu.Lock()
	filters := b.filters
	b.mu.Unlock()
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if frame.ID&f.Mask == f.ID&f.Mask {
			return true
		}
	}
	return false
}

// Send implements Bus
func (b *MemoryBus) Send(frame can.Frame) error {
	select {
	case <-b.closed:
		return errors.ErrBusClosed
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}
	b.sent = append(b.sent, frame)
	return nil
}

// Receive implements Bus
func (b *MemoryBus) Receive(timeout time.Duration) (can.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-b.inbox:
		return frame, nil
	case <-b.closed:
		return can.Frame{}, errors.ErrBusClosed
	case <-timer.C:
		return can.Frame{}, errors.ErrReceiveTimeout
	}
}

// SetFilters implements Bus
func (b *MemoryBus) SetFilters(filters []config.FilterConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = filters
	return nil
}

// Close implements Bus
func (b *MemoryBus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
