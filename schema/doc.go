// Package schema loads DBC frame schemas and exposes per-frame signal
// encoding and decoding.
//
// Parsing and bit packing are delegated to go.einride.tech/can; this
// package only indexes the compiled descriptor database by frame name and
// numeric identifier and adds the physical-range checks the bridge relies
// on. The schema is supplied, never derived: a payload naming an unknown
// signal or carrying an out-of-range value is an encode error, and a
// frame with the wrong byte length is a decode error.
package schema
