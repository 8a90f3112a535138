package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUserConfig_Defaults(t *testing.T) {
	userConfig, err := loadUserConfig("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "keep_newest", userConfig.ConflictPolicy)
	assert.False(t, userConfig.HardDelete)
	assert.Equal(t, 4, userConfig.ProcessingConcurrency)
	assert.Equal(t, 10, userConfig.ProgressCadence)
	assert.Equal(t, 2*time.Second, userConfig.RetryBaseDelay)
	assert.Equal(t, 3, userConfig.RetryCeiling)
	assert.Equal(t, 5*time.Minute, userConfig.RetryMaxDelay)
	assert.Equal(t, 60, userConfig.SyncIntervalMinutes)
}

func TestLoadUserConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
conflict_policy: keep_both
processing_concurrency: 8
unmetered_only: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	userConfig, err := loadUserConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "keep_both", userConfig.ConflictPolicy)
	assert.Equal(t, 8, userConfig.ProcessingConcurrency)
	assert.True(t, userConfig.UnmeteredOnly)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 3, userConfig.RetryCeiling)
}

func TestLoadUserConfig_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
conflict_policy: keep_both
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("ARIA_SYNC_CONFLICT_POLICY", "user_prompt")

	userConfig, err := loadUserConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "user_prompt", userConfig.ConflictPolicy)
}

func TestSaveUserConfigFile_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	userConfig, err := loadUserConfig(configPath)
	require.NoError(t, err)
	userConfig.ConflictPolicy = "user_prompt"
	userConfig.SyncIntervalMinutes = 15

	err = saveUserConfigFile(userConfig, configPath)
	require.NoError(t, err)

	loaded, err := loadUserConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "user_prompt", loaded.ConflictPolicy)
	assert.Equal(t, 15, loaded.SyncIntervalMinutes)
}
