package llm

import (
	"context"
	"errors"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse marks a proxy reply that could not be parsed. It is
// never retried.
var ErrMalformedResponse = errors.New("malformed llm response")

// IsRetryable classifies an error as transient. Transient conditions are
// request timeouts, connection errors, and the 429/503/504 statuses. All
// other HTTP statuses, 500 included, are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return false
}

func retryableStatus(status int) bool {
	switch status {
	case 429, 503, 504:
		return true
	default:
		return false
	}
}
