// Package binding compiles configured bindings against a loaded frame
// schema.
//
// A binding associates one schema frame with a set of friendly field
// names. Compilation resolves the frame name exactly once, at
// registration time; the resulting Encoder and Decoder are stateless pure
// functions, safe for concurrent use.
package binding
