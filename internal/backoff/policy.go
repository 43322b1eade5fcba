// Package backoff provides exponential backoff utilities for retrying
// transient failures.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the delay.
	Jitter float64
}

// Compute calculates the delay before retrying after the given attempt.
// The formula is base = baseDelay * factor^(attempt-1), jitter = base * jitter * random().
// Returns min(maxDelay, base + jitter). Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the delay using a provided random value in
// [0.0, 1.0). Useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.BaseDelay) * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(float64(policy.MaxDelay), base+jitterAmount)
	return time.Duration(total)
}

// DefaultPolicy returns the retry policy applied to LLM proxy calls.
// Base: 2s, Max: 10s, Factor: 2, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  10 * time.Second,
		Factor:    2,
	}
}
