package agent

import (
	"context"

	"github.com/agw/gateway/internal/models"
)

// Turn is one entry in the conversation history passed to the planner. A
// tool-result turn is represented as {Role: "tool", Content: "<name> -> <result>"};
// planners that cannot accept that role must be adapted at the planner
// integration layer, outside this package's scope.
type Turn struct {
	Role    string
	Content string
}

// ToolCallRequest is the planner's request to invoke one tool. The engine
// consumes only the first tool call per step (single-shot-per-step); richer
// batching is left as a future extension.
type ToolCallRequest struct {
	Name string
	Args map[string]any
}

// PlanResult is the tagged-variant response from Planner.Plan: either
// Content (text to surface to the user) or one or more ToolCalls.
type PlanResult struct {
	Content   string
	ToolCalls []ToolCallRequest
}

// Planner is the external decision-maker the AgentEngine calls once per
// step. It is an abstract collaborator — no concrete LLM integration lives
// in this module.
type Planner interface {
	Plan(ctx context.Context, history []Turn, tools []models.ToolSpec) (PlanResult, error)
}

// PlannerFunc adapts a function to the Planner interface, used heavily in
// tests to script deterministic planner behavior.
type PlannerFunc func(ctx context.Context, history []Turn, tools []models.ToolSpec) (PlanResult, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, history []Turn, tools []models.ToolSpec) (PlanResult, error) {
	return f(ctx, history, tools)
}
