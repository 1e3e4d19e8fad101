// Package workererr classifies errors returned by job handlers so the
// worker runtime knows whether to retry, dead-letter, or cancel a job.
package workererr

import (
	"errors"
	"fmt"
)

// RetryableError wraps transient errors for observability: the
// manager's retry/dead-letter decision is driven purely by
// retry_count vs retry_limit, not by this
// classification, but IsRetryable still tags error-handler log output
// so operators can tell transient causes from permanent ones at a
// glance.
//
// Use for: network timeouts, database connection lost, temporary
// locks, rate limits. Don't use for: validation errors, not-found
// errors, business logic failures.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient wraps an error to mark it as a transient cause.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Transient.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// PanicError indicates a panic occurred while a handler processed a
// job. Jobs that panic are failed immediately with no further
// retries: a panic signals a programming error, not a transient one.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic returns true if the error indicates a panic occurred.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// JobCancelled indicates the job should be permanently cancelled with
// no further retries. Return this from a handler when the job is
// determined to be unrecoverable.
type JobCancelled struct {
	Reason string
}

func (e JobCancelled) Error() string {
	return fmt.Sprintf("job cancelled: %s", e.Reason)
}

// IsJobCancelled returns true if the error indicates intentional
// cancellation rather than failure.
func IsJobCancelled(err error) bool {
	var cancelled JobCancelled
	return errors.As(err, &cancelled)
}
