// Package channel implements the per-bus channel service: it owns one
// bus handle, encodes outbound payloads through registered bindings, and
// runs a single background receive loop that decodes inbound frames and
// dispatches them to registered handlers.
//
// Channels are fully independent. A channel that fails to open, or a
// frame that fails to decode, never affects any other channel; one bad
// frame never terminates the receive loop.
package channel
