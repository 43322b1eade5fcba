package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maestro-agents/maestro/internal/backoff"
	"github.com/maestro-agents/maestro/internal/infra"
	"github.com/maestro-agents/maestro/internal/tools"
	"github.com/maestro-agents/maestro/pkg/models"
)

// ResilientClient wraps a Client with retry and a circuit breaker. The
// breaker sits inside the retry loop so every attempt counts toward the
// failure threshold, while an open breaker stops the retries immediately.
type ResilientClient struct {
	inner      Client
	breaker    *infra.CircuitBreaker
	policy     backoff.Policy
	maxRetries int
	logger     *slog.Logger
}

// NewResilientClient composes the resilience layers around inner.
func NewResilientClient(inner Client, breaker *infra.CircuitBreaker, policy backoff.Policy, maxRetries int, logger *slog.Logger) *ResilientClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientClient{
		inner:      inner,
		breaker:    breaker,
		policy:     policy,
		maxRetries: maxRetries,
		logger:     logger.With("component", "llm-resilient"),
	}
}

// ChatCompletion calls the inner client through the breaker, retrying
// transient failures with exponential backoff.
func (c *ResilientClient) ChatCompletion(ctx context.Context, model string, messages []models.Message, toolSpecs []tools.Spec) (*Response, error) {
	retryable := func(err error) bool {
		if errors.Is(err, infra.ErrCircuitOpen) {
			return false
		}
		return IsRetryable(err)
	}

	var lastErr error
	result, err := backoff.Retry(ctx, c.policy, c.maxRetries, retryable, func(attempt int) (*Response, error) {
		if attempt > 1 {
			c.logger.Warn("retrying llm call", "attempt", attempt, "model", model, "error", lastErr)
		}
		resp, callErr := infra.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (*Response, error) {
			return c.inner.ChatCompletion(ctx, model, messages, toolSpecs)
		})
		lastErr = callErr
		return resp, callErr
	})
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}
