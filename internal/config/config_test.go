package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8002, cfg.BackendPort)
	assert.True(t, cfg.DBOnly)
}

func TestLoad_LegacyBareEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("BACKEND_PORT", "9100")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.BackendPort)
}

func TestStateFilePath_JoinsRepoRootAgentsDirAndADWID(t *testing.T) {
	cfg := Default()
	cfg.RepoRoot = "/srv/adw"
	path := cfg.StateFilePath("abc123")
	assert.Equal(t, "/srv/adw/agents/abc123/adw_state.json", path)
}
