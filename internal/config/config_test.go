package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "ask", cfg.DefaultApprovalPolicy)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".orbitdock"), 0755))

	yamlContent := "port: 9090\ndefault_approval_policy: allow\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(home, ".orbitdock", "config.yaml"),
		[]byte(yamlContent), 0644,
	))

	cfg, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "allow", cfg.DefaultApprovalPolicy)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := Load(home)
	require.NoError(t, err)
	assert.NotNil(t, cfg.MCP)
}

func TestEnvOverridesReasoningBinAndWatcher(t *testing.T) {
	home := t.TempDir()

	t.Setenv(EnvReasoningBin, "/usr/local/bin/reasoning-agent")
	t.Setenv(EnvDisableRolloutWatcher, "1")

	cfg, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/reasoning-agent", cfg.ReasoningBin)
	assert.True(t, cfg.DisableRolloutWatcher)
}

func TestResolveHomeFallsBackToUserHomeDir(t *testing.T) {
	t.Setenv(EnvHome, "")
	got := ResolveHome()
	want, _ := os.UserHomeDir()
	assert.Equal(t, want, got)
}

func TestGetPaths(t *testing.T) {
	paths := GetPaths("/home/alice")
	assert.Equal(t, "/home/alice/.orbitdock", paths.Root)
	assert.Equal(t, "/home/alice/.orbitdock/orbitdock.db", paths.DB)
	assert.Equal(t, "/home/alice/.orbitdock/rollout-watcher-state.json", paths.RolloutState)
	assert.Equal(t, "/home/alice/.orbitdock/token", paths.Token)
	assert.Equal(t, "/home/alice/.orbitdock/orbitdock.pid", paths.PID)
}
