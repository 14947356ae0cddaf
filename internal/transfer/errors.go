package transfer

import (
	"errors"
	"fmt"
)

// RetryableError represents a transient transfer failure: a non-success HTTP
// status, a connection error, or a mid-stream read error. The staging file
// has already been discarded; the caller should wait and try again.
type RetryableError struct {
	Operation  string // the step that failed, e.g. "request" or "stream"
	StatusCode int    // HTTP status code, 0 for non-HTTP failures
	Err        error  // underlying error, if any
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("retryable transfer failure during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("retryable transfer failure during %s: %v", e.Operation, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError

	return errors.As(err, &re)
}

// PublishError represents a staging or publish failure on the local
// filesystem: create, fsync, or the staging→final rename. These indicate a
// permissions or disk problem and are fatal for the target, never retried
// silently.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
