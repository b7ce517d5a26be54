package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int32

const (
	// StateStopped indicates the component is not running (initial and
	// terminal state)
	StateStopped State = iota
	// StateStarting indicates the component is acquiring resources
	StateStarting
	// StateRunning indicates the component is running
	StateRunning
	// StateStopping indicates shutdown is in progress
	StateStopping
	// StateFailed indicates the component failed during a lifecycle
	// operation
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support lifecycle
// management:
//   - Start(ctx) acquires resources and spawns background work; it is
//     idempotent when already running.
//   - Stop(timeout) signals background work, waits at most timeout for it
//     to exit, then releases resources; it is idempotent and safe to call
//     after a failed Start.
type LifecycleComponent interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthStatus represents the health of a component at one point in time
type HealthStatus struct {
	Healthy    bool
	State      State
	LastCheck  time.Time
	ErrorCount int
	LastError  string
	Uptime     time.Duration
}

// FlowMetrics summarizes a component's recent data flow
type FlowMetrics struct {
	MessagesPerSecond float64
	ErrorRate         float64
	LastActivity      time.Time
}
