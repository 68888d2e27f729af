// Package tools provides the tool framework and implementations for the
// continuation loop.
package tools

import (
	"context"
	"fmt"
)

// Invocation carries one tool call plus the conversation it belongs to.
type Invocation struct {
	UserID    string
	SessionID string
	Query     string
}

// Result is the outcome of one tool execution. Failures are results, not
// errors: the loop folds them into the turn rather than crashing it.
type Result struct {
	Success bool `json:"success"`
	// Essential is the compressed projection that re-enters the prompt.
	Essential map[string]any `json:"essential,omitempty"`
	// Error is the user-facing failure reason when Success is false.
	Error string `json:"error,omitempty"`
}

// Failed builds a failure result with a reason.
func Failed(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the tool identifier used in tool-call objects.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Execute runs the tool. Expected failures come back as a failed
	// Result; the error return is for infrastructure breakage only.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// Registry manages tool registration and execution.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	return result
}

// Execute runs a tool by name. An unknown tool name yields a failed
// result, never an error, so a hallucinated name cannot abort a turn with
// a crash.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) *Result {
	tool, ok := r.tools[name]
	if !ok {
		return Failed("unknown tool: %s", name)
	}
	res, err := tool.Execute(ctx, inv)
	if err != nil {
		return Failed("%s failed: %v", name, err)
	}
	if res == nil {
		return Failed("%s returned no result", name)
	}
	return res
}
