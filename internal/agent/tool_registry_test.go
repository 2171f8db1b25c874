package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/models"
)

func echoSpec() models.ToolSpec {
	return models.ToolSpec{Name: "core.echo", Description: "echoes its input", Permission: models.PermissionRead}
}

func echoHandler(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoSpec(), echoHandler))

	spec, handler, ok := r.Get("core.echo")
	require.True(t, ok)
	assert.Equal(t, "core.echo", spec.Name)
	assert.NotNil(t, handler)
}

func TestGetMissingToolReturnsFalse(t *testing.T) {
	r := NewToolRegistry()
	_, _, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegisterDuplicateFailsLoudlyAndKeepsOriginal(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoSpec(), echoHandler))

	err := r.Register(models.ToolSpec{Name: "core.echo", Description: "a different tool"}, echoHandler)
	require.Error(t, err)
	var dupErr *ErrDuplicateTool
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "core.echo", dupErr.Name)

	spec, _, ok := r.Get("core.echo")
	require.True(t, ok)
	assert.Equal(t, "echoes its input", spec.Description)
}

func TestListSpecsEnumeratesAll(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(echoSpec(), echoHandler))
	require.NoError(t, r.Register(models.ToolSpec{Name: "notify.send", Permission: models.PermissionWrite}, echoHandler))

	specs := r.ListSpecs()
	assert.Len(t, specs, 2)
}
