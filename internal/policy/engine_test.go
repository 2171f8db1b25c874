package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agw/gateway/internal/models"
)

func TestDenyByDefault(t *testing.T) {
	e := New(nil)
	ok, reason := e.AllowSender("ch1", "u1", true, false)
	assert.False(t, ok)
	assert.Equal(t, ReasonSenderNotAllowlisted, reason)

	ok, reason, needsApproval := e.AllowTool(models.ToolSpec{Name: "foo.bar", Permission: models.PermissionRead})
	assert.False(t, ok)
	assert.Equal(t, ReasonToolNotAllowed, reason)
	assert.False(t, needsApproval)
}

func TestAllowSenderChecksInOrder(t *testing.T) {
	p := &models.Policy{
		Allowlist:   map[string][]string{"ch1": {"u1"}},
		DMPolicy:    models.PolicyDeny,
		GroupPolicy: models.PolicyAllow,
	}
	e := New(p)

	ok, reason := e.AllowSender("ch1", "u1", true, false)
	assert.False(t, ok)
	assert.Equal(t, ReasonDMBlocked, reason)

	ok, reason = e.AllowSender("ch1", "u1", false, true)
	assert.True(t, ok)
	assert.Equal(t, ReasonOK, reason)
}

func TestAllowSenderRateLimited(t *testing.T) {
	p := &models.Policy{
		Allowlist:      map[string][]string{"ch1": {"u1"}},
		DMPolicy:       models.PolicyAllow,
		GroupPolicy:    models.PolicyAllow,
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	}
	e := New(p)
	ok, _ := e.AllowSender("ch1", "u1", true, false)
	assert.True(t, ok)
	ok, reason := e.AllowSender("ch1", "u1", true, false)
	assert.False(t, ok)
	assert.Equal(t, ReasonRateLimited, reason)
}

func TestAllowToolRequiresApprovalForWriteTools(t *testing.T) {
	p := &models.Policy{
		ToolAllow:                     map[string]models.ToolPermission{"notify.send": models.PermissionWrite},
		RequireApprovalsForWriteTools: true,
	}
	e := New(p)
	ok, reason, needsApproval := e.AllowTool(models.ToolSpec{Name: "notify.send", Permission: models.PermissionWrite})
	assert.True(t, ok)
	assert.Equal(t, ReasonOK, reason)
	assert.True(t, needsApproval)
}

func TestAllowToolReadNeedsNoApproval(t *testing.T) {
	p := &models.Policy{
		ToolAllow: map[string]models.ToolPermission{"core.echo": models.PermissionRead},
	}
	e := New(p)
	ok, _, needsApproval := e.AllowTool(models.ToolSpec{Name: "core.echo", Permission: models.PermissionRead})
	assert.True(t, ok)
	assert.False(t, needsApproval)
}

func TestSetPolicyIsIdempotent(t *testing.T) {
	p := &models.Policy{
		Allowlist: map[string][]string{"ch1": {"u1"}},
		ToolAllow: map[string]models.ToolPermission{"core.echo": models.PermissionRead},
	}
	e := New(nil)
	e.SetPolicy(p)
	first := e.Policy()
	e.SetPolicy(p)
	second := e.Policy()
	assert.Equal(t, first, second)
}
