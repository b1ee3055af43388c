package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1024, cfg.EmbeddingDimension)
	assert.Equal(t, 1000, cfg.DebounceDelayMS)
	assert.Equal(t, 300, cfg.LockTimeoutSeconds)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, []string{".git", ".vs", "node_modules", "bin", "obj"}, cfg.ExcludePatterns)
	assert.Equal(t, 30, cfg.EmbeddingSyncIntervalSeconds)
	assert.Equal(t, 50, cfg.EmbeddingBatchSize)
	assert.Nil(t, cfg.AllowedExtensions)
	require.NoError(t, cfg.Validate())
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1000*1e6, float64(cfg.DebounceDelay()))
	assert.Equal(t, 300*1e9, float64(cfg.LockTimeout()))
	assert.Equal(t, 30*1e9, float64(cfg.EmbeddingSyncInterval()))
}

func TestConfig_Validate_RejectsBadValues(t *testing.T) {
	cfg := NewConfig()
	cfg.EmbeddingDimension = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Chunking.MinChunkSize = 500
	cfg.Chunking.MaxChunkSize = 100
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Chunking.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.DataPath = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Load_PrecedenceChain(t *testing.T) {
	dataDir := t.TempDir()
	xdgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	userCfg := NewConfig()
	userCfg.MaxRetries = 7
	userCfg.EmbeddingBatchSize = 25
	require.NoError(t, userCfg.WriteYAML(GetUserConfigPath()))

	projectYAML := []byte("max_retries: 9\n")
	require.NoError(t, os.WriteFile(ProjectConfigPath(dataDir), projectYAML, 0o644))

	cfg, err := Load(dataDir)
	require.NoError(t, err)

	// Project config (max_retries: 9) beats user config (max_retries: 7).
	assert.Equal(t, 9, cfg.MaxRetries)
	// User config's batch size survives since the project file didn't set it.
	assert.Equal(t, 25, cfg.EmbeddingBatchSize)
	assert.Equal(t, dataDir, cfg.DataPath)
}

func TestConfig_Load_EnvOverridesEverything(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("VAULTINDEX_MAX_RETRIES", "11")
	t.Setenv("VAULTINDEX_EXCLUDE_PATTERNS", ".git, .cache")

	cfg, err := Load(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.MaxRetries)
	assert.Equal(t, []string{".git", ".cache"}, cfg.ExcludePatterns)
}

func TestConfig_WriteYAML_RoundTrips(t *testing.T) {
	cfg := NewConfig()
	cfg.EmbeddingDimension = 768
	path := filepath.Join(t.TempDir(), "vaultindex.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.mergeFile(path))
	assert.Equal(t, 768, loaded.EmbeddingDimension)
}

func TestConfig_MatchesExcludePattern_CaseInsensitive(t *testing.T) {
	cfg := NewConfig()
	assert.True(t, cfg.MatchesExcludePattern(".GIT"))
	assert.True(t, cfg.MatchesExcludePattern("node_modules"))
	assert.False(t, cfg.MatchesExcludePattern("src"))
}

func TestGetUserConfigPath_RespectsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "vaultindex", "config.yaml"), GetUserConfigPath())
}
