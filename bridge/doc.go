// Package bridge supervises the set of channel services described by one
// bridge configuration: it builds them, starts and stops them together,
// and exposes per-channel lookup for attachment layers.
//
// Channels fail independently. A channel that cannot open its transport
// is reported without preventing the remaining channels from starting,
// and shutdown always reaches every channel, collecting errors instead of
// stopping at the first.
package bridge
