// Package llm implements the chat-completion client against the internal
// proxy, the retry/breaker composition around it, and the response processor
// that enforces the single-tool-call contract.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/maestro-agents/maestro/internal/tools"
	"github.com/maestro-agents/maestro/pkg/models"
)

// DefaultTimeout bounds a single chat-completion round trip.
const DefaultTimeout = 360 * time.Second

// Usage carries the token accounting of one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the canonical result of one chat-completion call.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     Usage
	Model     string
}

// Client is the single-shot chat-completion interface.
type Client interface {
	ChatCompletion(ctx context.Context, model string, messages []models.Message, toolSpecs []tools.Spec) (*Response, error)
}

// ProxyClient talks to the internal LLM proxy over the OpenAI wire format.
// Authentication uses the X-Internal-Auth header rather than a bearer token.
type ProxyClient struct {
	client *openai.Client
	logger *slog.Logger
}

type authTransport struct {
	key  string
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Internal-Auth", t.key)
	return t.base.RoundTrip(clone)
}

// NewProxyClient creates a client against the given proxy base URL. The proxy
// serves the OpenAI paths under /v1.
func NewProxyClient(proxyURL, internalKey string, timeout time.Duration, logger *slog.Logger) *ProxyClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(internalKey)
	if proxyURL != "" {
		cfg.BaseURL = strings.TrimSuffix(proxyURL, "/") + "/v1"
	}
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &authTransport{
			key:  internalKey,
			base: http.DefaultTransport,
		},
	}

	return &ProxyClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("component", "llm"),
	}
}

// ChatCompletion performs one non-streaming completion round trip.
func (c *ProxyClient) ChatCompletion(ctx context.Context, model string, messages []models.Message, toolSpecs []tools.Spec) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(messages),
	}
	if len(toolSpecs) > 0 {
		req.Tools = convertTools(toolSpecs)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in completion", ErrMalformedResponse)
	}

	out, err := parseChoice(resp.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	out.Model = resp.Model
	out.Usage = Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	c.logger.Debug("chat completion",
		"model", out.Model,
		"duration", time.Since(start),
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"tool_calls", len(out.ToolCalls))
	return out, nil
}

func parseChoice(msg openai.ChatCompletionMessage) (*Response, error) {
	out := &Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%w: tool call %s has unparseable arguments: %v", ErrMalformedResponse, tc.ID, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		switch msg.Role {
		case models.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: encodeArguments(tc.Arguments),
						},
					}
				}
			}
		case models.RoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.Name
		}

		result = append(result, oaiMsg)
	}
	return result
}

func convertTools(specs []tools.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal([]byte(spec.Parameters), &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func encodeArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
