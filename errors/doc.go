// Package errors provides standardized error handling for TritonCAN
// components. It includes error classification, standard error variables,
// and helper functions for consistent error wrapping across the bridge.
package errors
