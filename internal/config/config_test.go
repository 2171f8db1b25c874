package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 0.0.0.0\n  bogus_field: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 0.0.0.0\n---\nserver:\n  host: 127.0.0.1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "./data/agw.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 10, cfg.Engine.RunMaxSteps)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "agw-local", cfg.InstanceID)
}

func TestLoadValidatesRequireClientAuthNeedsKeys(t *testing.T) {
	path := writeConfig(t, "auth:\n  require_client_auth: true\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_api_keys")
}

func TestLoadAcceptsRequireClientAuthWithKeys(t *testing.T) {
	path := writeConfig(t, "auth:\n  require_client_auth: true\n  client_api_keys: [\"k1\", \"k2\"]\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.ClientAPIKeys)
}

func TestLoadValidatesLogLevel(t *testing.T) {
	path := writeConfig(t, "logging:\n  log_level: verbose\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadValidatesRunMaxSteps(t *testing.T) {
	path := writeConfig(t, "engine:\n  run_max_steps: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_max_steps")
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("AGW_TEST_HOST", "10.0.0.5")
	path := writeConfig(t, "server:\n  host: \"$AGW_TEST_HOST\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
}

func TestApplyEnvOverridesTakesPrecedenceOverFile(t *testing.T) {
	t.Setenv("AGW_PORT", "9999")
	t.Setenv("AGW_CLIENT_API_KEYS", "a, b ,c")
	path := writeConfig(t, "server:\n  port: 1111\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.ClientAPIKeys)
}

func TestValidationErrorCollectsAllIssues(t *testing.T) {
	path := writeConfig(t, "engine:\n  run_max_steps: 0\n  run_retry: -1\nlogging:\n  log_level: bogus\n")
	_, err := Load(path)
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verr.Issues), 3)
}
