package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"authURL": "http://portal.test/authorize",
		"requestTimeout": "5s",
		"manifestCacheTTL": "2s",
		"workerThreads": 2
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://portal.test/authorize", cfg.AuthURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.ManifestCacheTTL)
	assert.Equal(t, 2, cfg.WorkerThreads)
	// defaults fill the rest
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 20, cfg.RequestsPerSecond)
	assert.NotEmpty(t, cfg.UserAgent)
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"requestTimeout": "soon"}`), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requestTimeout")
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NotNil(t, cfg)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Same(t, cfg, LoadConfig("ignored-after-cache"))
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.ObfuscateUrls)
	assert.Equal(t, 10*time.Second, cfg.ManifestCacheTTL)
}

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "http://example.com/***?***", obfuscateURL("http://example.com/secret/a?token=abc"))
	assert.Equal(t, "", obfuscateURL(""))
}
