// Package tools holds the canonical tool specifications, the per-agent
// filter, and tool-call argument validation.
package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maestro-agents/maestro/pkg/models"
)

// Tool categories.
const (
	CategoryFile    = "file"
	CategoryShell   = "shell"
	CategorySearch  = "search"
	CategoryControl = "control"
)

// Execution-mode hints.
const (
	ModeHost     = "host"     // executed by the remote editor host
	ModeInternal = "internal" // handled inside the core
)

var (
	// ErrUnknownTool is returned when a call names a tool not in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when a call's arguments fail the tool's
	// parameter schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Spec is one canonical tool specification.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON-schema source for the tool's arguments.
	Parameters string `json:"parameters"`
	Category   string `json:"category"`
	Permission string `json:"permission"`
	Mode       string `json:"mode"`
}

// Registry holds tool specs with their compiled argument schemas.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	specs    map[string]Spec
	order    []string
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates a registry seeded with the canonical tool set.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:   logger.With("component", "tools"),
		specs:    make(map[string]Spec),
		compiled: make(map[string]*jsonschema.Schema),
	}
	for _, spec := range canonicalSpecs() {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles the spec's parameter schema and adds it to the registry.
func (r *Registry) Register(spec Spec) error {
	compiler := jsonschema.NewCompiler()
	url := spec.Name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(spec.Parameters)); err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", spec.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: failed to compile schema: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.specs[spec.Name] = spec
	r.compiled[spec.Name] = schema
	return nil
}

// Get returns the spec for one tool.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns every registered spec in registration order.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Filter returns the specs to hand the LLM. A nil allowed list means all
// tools. Unknown names in the allowed list are logged as warnings and
// skipped; they never fail the filter.
func (r *Registry) Filter(allowed []string) []Spec {
	if allowed == nil {
		return r.List()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(allowed))
	for _, name := range allowed {
		spec, ok := r.specs[name]
		if !ok {
			r.logger.Warn("allowed tool not in registry", "tool", name)
			continue
		}
		out = append(out, spec)
	}
	return out
}

// ValidateCall checks that the call names a registered tool and that its
// arguments satisfy the tool's parameter schema.
func (r *Registry) ValidateCall(call models.ToolCall) error {
	r.mu.RLock()
	schema, ok := r.compiled[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(toJSONValue(args)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Name, err)
	}
	return nil
}

// toJSONValue normalizes Go values into the shapes the schema validator
// expects (notably map[string]any with json-compatible leaves).
func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toJSONValue(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
