// Package classifier decides whether a user request is atomic work for a
// single agent or complex work that needs a plan.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestro-agents/maestro/internal/llm"
	"github.com/maestro-agents/maestro/pkg/models"
)

// Classification targets. These are routing intents, not agent types; the
// caller maps them onto agents.
const (
	TargetCode    = "code"
	TargetPlan    = "plan"
	TargetDebug   = "debug"
	TargetExplain = "explain"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Result is one classification verdict. IsAtomic false always pairs with
// TargetPlan.
type Result struct {
	IsAtomic    bool   `json:"isAtomic"`
	TargetAgent string `json:"targetAgent"`
	Confidence  string `json:"confidence"`
	Reason      string `json:"reason"`
}

// Classifier routes a user message through one LLM call, falling back to a
// deterministic keyword pass when the model is unreachable or incoherent.
type Classifier struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates a classifier. client may be nil, forcing the keyword path.
func New(client llm.Client, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client: client,
		model:  model,
		logger: logger.With("component", "classifier"),
	}
}

const classifyPrompt = `Classify the user request for a programming assistant.
Reply with a single JSON object and nothing else:
{"isAtomic": <bool>, "targetAgent": "code"|"plan"|"debug"|"explain", "confidence": "high"|"medium"|"low", "reason": "<one sentence>"}
A request is atomic when one agent can finish it in one focused session.
Complex multi-part work is not atomic and must target "plan".`

// Classify returns the routing verdict for one user message.
func (c *Classifier) Classify(ctx context.Context, userMessage string) Result {
	if c.client != nil {
		if result, err := c.classifyLLM(ctx, userMessage); err == nil {
			return result
		} else {
			c.logger.Warn("llm classification failed, using keyword fallback", "error", err)
		}
	}
	return c.classifyKeywords(userMessage)
}

func (c *Classifier) classifyLLM(ctx context.Context, userMessage string) (Result, error) {
	resp, err := c.client.ChatCompletion(ctx, c.model, []models.Message{
		{Role: models.RoleSystem, Content: classifyPrompt},
		{Role: models.RoleUser, Content: userMessage},
	}, nil)
	if err != nil {
		return Result{}, err
	}

	result, err := parseVerdict(resp.Content)
	if err != nil {
		return Result{}, err
	}
	return sanitize(result), nil
}

// parseVerdict extracts the JSON verdict, tolerating markdown code fences
// and Python-style boolean literals.
func parseVerdict(content string) (Result, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	text = strings.ReplaceAll(text, ": True", ": true")
	text = strings.ReplaceAll(text, ": False", ": false")
	text = strings.ReplaceAll(text, ":True", ":true")
	text = strings.ReplaceAll(text, ":False", ":false")

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, fmt.Errorf("unparseable classification %q: %w", content, err)
	}
	return result, nil
}

// sanitize coerces out-of-range fields and enforces the plan pairing: a
// non-atomic verdict always targets "plan".
func sanitize(result Result) Result {
	switch result.TargetAgent {
	case TargetCode, TargetPlan, TargetDebug, TargetExplain:
	default:
		return Result{
			IsAtomic:    false,
			TargetAgent: TargetPlan,
			Confidence:  ConfidenceLow,
			Reason:      fmt.Sprintf("unknown target %q, treated as complex", result.TargetAgent),
		}
	}
	switch result.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		result.Confidence = ConfidenceLow
	}
	if !result.IsAtomic && result.TargetAgent != TargetPlan {
		result.TargetAgent = TargetPlan
	}
	if result.IsAtomic && result.TargetAgent == TargetPlan {
		result.IsAtomic = false
	}
	return result
}

var complexityIndicators = []string{
	"full application",
	"entire application",
	"whole project",
	"from scratch",
	"multiple files",
	"end to end",
	"end-to-end",
	"build a",
	"create an app",
	"design and implement",
	"migrate",
	"rewrite the",
}

var debugIndicators = []string{
	"fix",
	"bug",
	"error",
	"crash",
	"broken",
	"fails",
	"failing",
	"stack trace",
}

var explainIndicators = []string{
	"explain",
	"what is",
	"what does",
	"how does",
	"why does",
	"describe",
	"document",
}

// classifyKeywords is the deterministic fallback. Confidence is always low.
func (c *Classifier) classifyKeywords(userMessage string) Result {
	text := strings.ToLower(userMessage)

	for _, kw := range complexityIndicators {
		if strings.Contains(text, kw) {
			return Result{
				IsAtomic:    false,
				TargetAgent: TargetPlan,
				Confidence:  ConfidenceLow,
				Reason:      fmt.Sprintf("keyword fallback: complexity indicator %q", kw),
			}
		}
	}
	for _, kw := range explainIndicators {
		if strings.Contains(text, kw) {
			return Result{
				IsAtomic:    true,
				TargetAgent: TargetExplain,
				Confidence:  ConfidenceLow,
				Reason:      fmt.Sprintf("keyword fallback: explanation indicator %q", kw),
			}
		}
	}
	for _, kw := range debugIndicators {
		if strings.Contains(text, kw) {
			return Result{
				IsAtomic:    true,
				TargetAgent: TargetDebug,
				Confidence:  ConfidenceLow,
				Reason:      fmt.Sprintf("keyword fallback: debugging indicator %q", kw),
			}
		}
	}
	return Result{
		IsAtomic:    true,
		TargetAgent: TargetCode,
		Confidence:  ConfidenceLow,
		Reason:      "keyword fallback: no indicator matched, defaulting to code",
	}
}
