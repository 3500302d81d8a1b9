package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig("order-syncer")

	assert.Equal(t, "order-syncer", cfg.ServiceName)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	assert.Equal(t, 30*time.Second, cfg.SyncInitialDelay)
	assert.Equal(t, 3*time.Second, cfg.DebounceDelay)
	assert.Equal(t, time.Second, cfg.ReconnectInitial)
	assert.Equal(t, 60*time.Second, cfg.ReconnectMax)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*24*time.Hour, cfg.OrderExpiryAge)
	assert.Equal(t, 1000.0, cfg.PaperStartingBalance)
	assert.Equal(t, 5*time.Second, cfg.PaperWalkInterval)
	assert.Equal(t, "market.last.trade", cfg.WSChannel)
	assert.Empty(t, cfg.Brokers())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SYNC_INTERVAL", "15s")
	t.Setenv("WS_DEBOUNCE_DELAY", "2")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("ADMIN_OWNER_ID", "777")
	t.Setenv("WS_ENABLED", "true")

	cfg := LoadConfig("order-syncer")

	assert.Equal(t, 15*time.Second, cfg.SyncInterval)
	assert.Equal(t, 2*time.Second, cfg.DebounceDelay)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
	assert.Equal(t, int64(777), cfg.AdminOwnerID)
	assert.True(t, cfg.WSEnabled)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\nPORT_HTTP=9191\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("PORT_HTTP", "9292")
	// godotenv leaves variables it set in the process environment.
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	cfg := LoadConfig("order-syncer")

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9292, cfg.HTTPPort, "real environment wins over .env")
	assert.Equal(t, ":9292", cfg.HTTPAddr())
}
