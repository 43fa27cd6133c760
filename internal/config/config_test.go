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
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("TAILS_MAX_TX_RETRIES", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 5, cfg.MaxTxRetries)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "~/Documents/Tails", cfg.StorageRoot)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("TAILS_ACCESS_TTL_SECONDS", "60")
	t.Setenv("TAILS_RATE_LIMIT_RPS", "2.5")
	t.Setenv("TAILS_MAX_TX_RETRIES", "not-a-number")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, time.Minute, cfg.AccessTTL)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 5, cfg.MaxTxRetries, "invalid ints fall back to the default")
}

func TestLoadFileOverlaysOnlySetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tails.toml")
	contents := `
addr = ":9999"

[database]
driver = "sqlite"
url = "/var/lib/tails/tails.db"

[auth]
access_ttl_seconds = 120

[log]
format = "console"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	base := Config{Addr: ":8787", DatabaseDriver: "postgres", LogLevel: "debug", LogFormat: "json", MaxTxRetries: 3}
	cfg, err := LoadFile(path, base)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "/var/lib/tails/tails.db", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MaxTxRetries)
}

func TestLoadFileRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("addr = "), 0o600))

	_, err := LoadFile(path, Config{})
	require.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"), Config{})
	require.Error(t, err)
}
