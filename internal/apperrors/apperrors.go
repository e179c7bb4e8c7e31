package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	ErrInvalidRequest = errors.New("invalid request body")

	// ErrSyncInProgress is the non-blocking single-flight rejection: a sync
	// request while another run is active returns immediately, no queuing.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCalcInProgress is the MetricsEngine's independent guard.
	ErrCalcInProgress = errors.New("metrics calculation already in progress")

	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrRateLimited marks quota exhaustion. Unlike transient upstream
	// failures it is never retried; callers should wait until the reset time.
	ErrRateLimited = errors.New("api rate limit exhausted")
)

// RateLimitError carries the quota state reported by the platform alongside
// the ErrRateLimited sentinel.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("api rate limit exhausted, resets at %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TransientError wraps a retryable upstream failure (gateway errors,
// timeouts, connection resets) after the retry budget is spent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient upstream failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
