package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClarificationPlannerDefaultMessage(t *testing.T) {
	result, err := ClarificationPlanner{}.Plan(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Contains(t, result.Content, "No planner is configured")
	assert.Empty(t, result.ToolCalls)
}

func TestClarificationPlannerCustomMessage(t *testing.T) {
	result, err := ClarificationPlanner{Message: "hold please"}.Plan(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "hold please", result.Content)
}
