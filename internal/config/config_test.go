package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notegraph/internal/types"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"NOTEGRAPH_VAULT", "NOTEGRAPH_DB", "NOTEGRAPH_MODEL", "NOTEGRAPH_PROVIDER",
		"GEMINI_API_KEY", "OLLAMA_HOST", "NOTEGRAPH_LISTEN",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ollama-cli", cfg.Analyzer.Provider)
	assert.Equal(t, "llama3.2", cfg.Analyzer.Model)
	assert.Equal(t, 90*time.Second, cfg.GetAnalyzerTimeout())
	assert.Equal(t, 6*time.Second, cfg.GetThrottleDelay())
	assert.Equal(t, 45*time.Second, cfg.GetScanInterval())
	assert.Equal(t, int64(5*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, 50, cfg.Discovery.Window)
	assert.Equal(t, 20, cfg.Discovery.MaxPerCycle)
	assert.Equal(t, 15, cfg.AutoApply.MaxPerHour)
	assert.Equal(t, []types.ConnectionType{
		types.ConnectionTemporal, types.ConnectionProject, types.ConnectionThematic,
	}, cfg.SafeConnectionTypes())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "notegraph.yaml")

	cfg := DefaultConfig()
	cfg.Vault.Path = "/notes/vault"
	cfg.Processing.RateLimitPerMinute = 30
	cfg.Discovery.Window = 10

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/notes/vault", loaded.Vault.Path)
	assert.Equal(t, 2*time.Second, loaded.GetThrottleDelay())
	assert.Equal(t, 10, loaded.Discovery.Window)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault:\n  path: /v\ndiscovery:\n  window: 5\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Discovery.Window)
	assert.Equal(t, 20, cfg.Discovery.MaxPerCycle)
	assert.Equal(t, ".md", cfg.Vault.Extension)
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTEGRAPH_VAULT", "/env/vault")
	t.Setenv("NOTEGRAPH_DB", "/env/db.sqlite")
	t.Setenv("NOTEGRAPH_MODEL", "qwen2.5")
	t.Setenv("OLLAMA_HOST", "10.0.0.5:11434")
	t.Setenv("NOTEGRAPH_LISTEN", "0.0.0.0:9000")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/env/vault", cfg.Vault.Path)
	assert.Equal(t, "/env/db.sqlite", cfg.DatabasePath())
	assert.Equal(t, "qwen2.5", cfg.Analyzer.Model)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.Analyzer.BaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Control.ListenAddr)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that exists, even when empty.
	os.Unsetenv("NOTEGRAPH_MODEL")
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("NOTEGRAPH_MODEL=mistral\n"), 0644))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envPath))
	t.Cleanup(func() { os.Unsetenv("NOTEGRAPH_MODEL") })

	cfg, err := Load(filepath.Join(dir, "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.Analyzer.Model)
}

func TestDatabasePathDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.Path = "/home/me/Vault/"
	assert.Equal(t, "/home/me/vault_analysis.db", cfg.DatabasePath())
	assert.Equal(t, "/home/me/.notegraph_backups", cfg.BackupDir())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "vault path is required")

	cfg.Vault.Path = "/v"
	assert.NoError(t, cfg.Validate())

	cfg.Analyzer.Provider = "invalid-provider"
	assert.Error(t, cfg.Validate())

	cfg.Analyzer.Provider = "gemini"
	assert.Error(t, cfg.Validate(), "gemini requires a key")
	cfg.Analyzer.APIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.AutoApply.SafeTypes = []string{"thematic", "none"}
	assert.Error(t, cfg.Validate())
	cfg.AutoApply.SafeTypes = []string{"thematic"}

	cfg.Discovery.Window = 1
	assert.Error(t, cfg.Validate())
	cfg.Discovery.Window = 50

	cfg.Processing.RateLimitPerMinute = 0
	assert.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analyzer.Timeout = "soon"
	cfg.Discovery.PairDelay = "-1s"
	cfg.Processing.RateLimitPerMinute = 0

	assert.Equal(t, 90*time.Second, cfg.GetAnalyzerTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetPairDelay())
	assert.Equal(t, 6*time.Second, cfg.GetThrottleDelay())
}

func TestLoggingCategories(t *testing.T) {
	lc := LoggingConfig{Categories: map[string]bool{"store": false}}
	assert.False(t, lc.IsCategoryEnabled("store"))
	assert.True(t, lc.IsCategoryEnabled("scanner"))
	assert.Equal(t, lc.Categories, lc.Options().Categories)
}
