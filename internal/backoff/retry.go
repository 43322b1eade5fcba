package backoff

import (
	"context"
)

// RetryResult holds the outcome of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry executes fn with exponential backoff. maxRetries is the number of
// retries after the first attempt, so up to maxRetries+1 total attempts are
// made. retryable decides whether a given error is worth another attempt; a
// nil retryable treats every error as retryable. A non-retryable error is
// returned immediately without sleeping.
//
// Context cancellation is checked before each attempt and during the sleeps
// between attempts.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxRetries int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]

	maxAttempts := maxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}
		result.LastError = err

		if retryable != nil && !retryable(err) {
			return result, err
		}
		if attempt == maxAttempts {
			return result, err
		}
		if err := Sleep(ctx, policy, attempt); err != nil {
			return result, err
		}
	}
	return result, result.LastError
}
