package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RefreshInterval)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "cryptoPortfolio", cfg.Ledger.Key)
	assert.False(t, cfg.Ledger.StrictPersist)
	assert.Equal(t, 50, cfg.CoinGecko.PerPage)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("LEDGER_STRICT_PERSIST", "true")
	t.Setenv("REFRESH_INTERVAL", "5s")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "cache:6380", cfg.Storage.RedisAddr)
	assert.True(t, cfg.Ledger.StrictPersist)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RefreshInterval)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.HTTP.CORSOrigins)
}

func TestLoadDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LEDGER_KEY=demoPortfolio\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("LEDGER_KEY") })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "demoPortfolio", cfg.Ledger.Key)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "pebble")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
