// Package metric manages Prometheus metrics for the bridge: a registry
// wrapping a private prometheus.Registry, core bridge-level metrics, and
// an HTTP server exposing them.
package metric
