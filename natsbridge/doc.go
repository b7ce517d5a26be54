// Package natsbridge attaches a bridge to NATS by driving the channel
// services' binding API: decoded inbound frames are published as JSON
// envelopes, and outbound bindings that name a subject are subscribed so
// published payloads become bus frames.
//
// The package depends only on the narrow Conn interface, so it is
// testable without a broker, and the bridge core never learns that NATS
// exists. Binding metadata carries the deployment-specific hints: a
// "subject" key overrides the default subject for either direction.
package natsbridge
