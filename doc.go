// Package tritoncan bridges CAN bus traffic and NATS messaging. Frames
// read from SocketCAN interfaces are decoded through a DBC schema and
// published as JSON envelopes; payloads published to NATS are encoded
// back into frames and transmitted on the bus.
//
// # Architecture
//
// A bridge supervises one service per configured channel. Each service
// owns one bus handle, a compiled schema, and the bindings that tie
// frames to application payloads:
//
//	┌─────────────────────────────────────┐
//	│            Bridge                   │  one per process
//	│  (start, stop, channel registry)    │
//	└─────────────────────────────────────┘
//	           ↓ supervises
//	┌─────────────────────────────────────┐
//	│        Channel Services             │  one per CAN interface
//	│  (receive loop, bindings, schema)   │
//	└─────────────────────────────────────┘
//	           ↓ frames via                ↑ payloads via
//	┌──────────────────┐      ┌──────────────────┐
//	│    SocketCAN     │      │   NATS subjects  │
//	│  (go.einride)    │      │  (pub/sub)       │
//	└──────────────────┘      └──────────────────┘
//
// Decode failures, unknown frames, and broker outages are contained per
// channel: one babbling device or one lost broker never takes down the
// other channels.
//
// # Packages
//
// Core:
//   - config: YAML configuration loading and validation
//   - schema: DBC compilation and frame encode/decode
//   - binding: payload <-> frame field mapping
//   - channel: per-interface service with lifecycle and receive loop
//   - bridge: multi-channel supervisor
//
// Messaging:
//   - natsclient: NATS connection management
//   - natsbridge: binding attachment publishing envelopes to NATS
//
// Infrastructure:
//   - component: lifecycle contract, health, NATS log mirroring
//   - metric: Prometheus metrics
//   - errors: structured error classification
//   - pkg/retry: backoff policies
//
// # Binary
//
// Build and run the bridge:
//
//	go build -o bin/tritoncan ./cmd/tritoncan
//	./bin/tritoncan --config configs/tritoncan.yaml
//
// The binary connects to NATS, opens every configured channel, and runs
// until SIGINT or SIGTERM.
package tritoncan
