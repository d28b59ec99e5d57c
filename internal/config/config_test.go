package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 10, cfg.MaxConcurrentLanes)
	require.Equal(t, 600, cfg.DefaultTaskTimeoutSeconds)
	require.Equal(t, 1800, cfg.DependencyWaitTimeoutSeconds)
	require.Equal(t, 2, cfg.Recovery.MaxRestarts)
	require.Empty(t, cfg.Recovery.LongOperationPatterns)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configJSON := `{
		"agent_command": ["test-agent"],
		"max_concurrent_lanes": 3,
		"log_level": "debug",
		"recovery": {"max_restarts": 5}
	}`

	require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Equal(t, 3, cfg.MaxConcurrentLanes)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"test-agent"}, cfg.AgentCommand)
	require.Equal(t, 5, cfg.Recovery.MaxRestarts)

	// Defaults still applied for unspecified fields.
	require.Equal(t, 600, cfg.DefaultTaskTimeoutSeconds)
	require.Equal(t, "main", cfg.BaseBranch)
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().MaxConcurrentLanes, cfg.MaxConcurrentLanes)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentLanes = 0
	require.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBranch = "develop"
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "develop", loaded.BaseBranch)
}
