// Package retry provides simple exponential backoff retry logic for
// transient failures, such as broker connections during startup.
//
// The package is intentionally minimal: exponential backoff with jitter,
// context cancellation, and nothing else. Whether an error is worth
// retrying is the caller's decision; wrap it with NonRetryable to fail
// fast.
package retry
