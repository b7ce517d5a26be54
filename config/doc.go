// Package config parses the declarative YAML description of one or more
// CAN bus channels into an immutable in-memory structure.
//
// The loader performs no I/O beyond reading the configuration file and
// verifying that each referenced schema file exists. Keys the bridge core
// does not recognize are preserved verbatim in per-channel and per-binding
// metadata bags so that attachment layers can carry deployment-specific
// hints (pub/sub subject names, QoS classes) without the core knowing
// their shape.
package config
