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
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 100, cfg.CacheWindow)
	assert.Equal(t, 256, cfg.SubscriberBuffer)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controlplane.toml")
	content := `
http_port = 4000
store_driver = "bbolt"
cache_window = 50
loader_wait_ms = 5

[ws]
ping_interval_ms = 1500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CACHE_WINDOW", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.HTTPPort)
	assert.Equal(t, StoreDriverBbolt, cfg.StoreDriver)
	assert.Equal(t, 25, cfg.CacheWindow)
	assert.Equal(t, 5*time.Millisecond, cfg.LoaderWait)
	assert.Equal(t, 1500*time.Millisecond, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("http_port = ["), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	cfg := Default()
	cfg.CacheWindow = 0
	assert.Error(t, cfg.Validate())
}
