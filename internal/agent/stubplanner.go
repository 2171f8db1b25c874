package agent

import (
	"context"

	"github.com/agw/gateway/internal/models"
)

// ClarificationPlanner is the default Planner wired by the CLI when no real
// LLM integration has been configured. It always answers with a fixed
// clarification message rather than calling any tool — a real deployment is
// expected to pass its own Planner to NewEngine in its place.
type ClarificationPlanner struct {
	// Message is returned verbatim as PlanResult.Content. Defaults to a
	// generic notice when empty.
	Message string
}

// Plan implements Planner.
func (c ClarificationPlanner) Plan(_ context.Context, _ []Turn, _ []models.ToolSpec) (PlanResult, error) {
	msg := c.Message
	if msg == "" {
		msg = "No planner is configured for this gateway. Connect a plugin that supplies one before running agent tasks."
	}
	return PlanResult{Content: msg}, nil
}
