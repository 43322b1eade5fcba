package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastPolicy() Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(), 2, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Value != "ok" || result.Attempts != 3 || calls != 3 {
		t.Fatalf("result = %+v, calls = %d", result, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), 2, nil, func(int) (string, error) {
		calls++
		return "", errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want last transient error", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want maxRetries+1 = 3", calls)
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), 5, func(err error) bool {
		return errors.Is(err, errTransient)
	}, func(int) (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastPolicy(), 3, nil, func(int) (string, error) {
		t.Fatal("fn must not run after cancellation")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
