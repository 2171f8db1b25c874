package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agw/gateway/internal/config"
	"github.com/agw/gateway/internal/models"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance_id: test\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestAuditFlagsMissingPolicy(t *testing.T) {
	report := Audit(Options{Config: baseConfig(t), InstanceLockHeld: true})
	assert.True(t, report.HasCritical())
	assert.Contains(t, findingIDs(report), "policy.missing")
}

func TestAuditFlagsDisabledAuth(t *testing.T) {
	cfg := baseConfig(t)
	report := Audit(Options{Config: cfg, Policy: models.DefaultPolicy(), InstanceLockHeld: true})
	assert.Contains(t, findingIDs(report), "auth.disabled")
}

func TestAuditFlagsRequiredAuthWithNoKeys(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Auth.RequireClientAuth = true
	report := Audit(Options{Config: cfg, Policy: models.DefaultPolicy(), InstanceLockHeld: true})
	assert.True(t, report.HasCritical())
	assert.Contains(t, findingIDs(report), "auth.no_keys_configured")
}

func TestAuditFlagsMissingInstanceLock(t *testing.T) {
	report := Audit(Options{Config: baseConfig(t), Policy: models.DefaultPolicy()})
	assert.True(t, report.HasCritical())
	assert.Contains(t, findingIDs(report), "instance.lock_not_held")
}

func TestAuditCleanConfigHasNoCriticalFindings(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Auth.RequireClientAuth = true
	cfg.Auth.ClientAPIKeys = []string{"k1"}
	policy := models.DefaultPolicy()
	policy.Allowlist = map[string][]string{"webchat": {"user-1"}}
	policy.ToolAllow = map[string]models.ToolPermission{"send_message": models.PermissionWrite}

	report := Audit(Options{Config: cfg, Policy: policy, InstanceLockHeld: true})
	assert.False(t, report.HasCritical())
}

func findingIDs(r *Report) []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.CheckID)
	}
	return ids
}
