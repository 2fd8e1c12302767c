package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled         = errors.New("task cancelled")
	ErrRetriesExhausted  = errors.New("task retries exhausted")
	ErrScheduleExhausted = errors.New("task schedule exhausted")
	ErrNoPolicy          = errors.New("task policy is nil")
	ErrNoWork            = errors.New("task work is nil")
)

// NoRetry marks an error as non-retryable.
//
// The loop gives up on the first such failure instead of spending the
// remaining attempts.
//
//	return dispatch.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
