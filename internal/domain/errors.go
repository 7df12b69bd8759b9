package domain

import "errors"

// Common domain errors
var (
	ErrTaskNotFound           = errors.New("download task not found")
	ErrInvalidRequest         = errors.New("invalid download request")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCapacityExceeded       = errors.New("cache capacity exceeded")
	ErrChecksumMismatch       = errors.New("artifact checksum mismatch")
	ErrResumeNotSupported     = errors.New("source does not support range resume")
	ErrManagerStopped         = errors.New("download manager is stopped")
)

// RetryableError marks a transfer error as transient. The executor absorbs
// retryable errors in its backoff loop until attempts are exhausted.
type RetryableError struct {
	Err error
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as transient.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
