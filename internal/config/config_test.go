package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONTHUNT_API_URL", "")
	t.Setenv("CONTHUNT_REQUESTS_PER_SECOND", "")

	cfg := Load()
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, 10.0, cfg.RequestsPerSec)
	assert.Equal(t, 15*time.Minute, cfg.DevTokenTTL)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONTHUNT_API_URL", "https://api.example.test")
	t.Setenv("CONTHUNT_REQUEST_TIMEOUT", "5s")
	t.Setenv("CONTHUNT_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "https://api.example.test", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2.5, cfg.RequestsPerSec)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CONTHUNT_REQUEST_BURST", "many")
	t.Setenv("CONTHUNT_REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 5, cfg.RequestBurst)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MOCK_PAGE_SIZE", "4")

	cfg := LoadServer()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 4, cfg.PageSize)
	assert.Equal(t, 3, cfg.TotalPages)
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("loads values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("STREAMCORE_DOTENV_CHECK=loaded\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("STREAMCORE_DOTENV_CHECK") })

		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "loaded", os.Getenv("STREAMCORE_DOTENV_CHECK"))
	})
}
