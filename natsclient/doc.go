// Package natsclient provides a managed NATS connection for the bridge's
// attachment layer: bounded connect retry, reconnect tracking fed into
// metrics, and drain-on-close.
//
// The bridge core never imports this package; it exists so the NATS
// attachment and the entry point share one connection lifecycle.
package natsclient
