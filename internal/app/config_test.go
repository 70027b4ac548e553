package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Cache.Redis.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Delivery.AckTimeout)
	assert.Equal(t, time.Hour, cfg.Delivery.StatusTTL)
	assert.Equal(t, time.Second, cfg.Delivery.PollInterval)
	assert.Equal(t, "@every 10s", cfg.Presence.SweepSchedule)
	assert.True(t, cfg.Monitoring.Prometheus.Enabled)
	assert.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_SERVER_PORT", "9100")
	t.Setenv("PARLEY_DELIVERY_ACK_TIMEOUT", "750ms")
	t.Setenv("PARLEY_CACHE_REDIS_ENABLED", "true")
	t.Setenv("PARLEY_CACHE_REDIS_ADDRESS", "redis.internal:6380")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Delivery.AckTimeout)
	assert.True(t, cfg.Cache.Redis.Enabled)
	assert.Equal(t, "redis.internal:6380", cfg.Cache.Redis.Address)
}

func TestDatabaseSettingsNormalisesDriver(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Driver = " PostgreSQL "
	cfg.Database.Postgres.Host = " db.internal "
	cfg.Database.Postgres.Port = 5432
	cfg.Database.Postgres.Database = "parley"
	cfg.Database.Postgres.Username = "app"
	cfg.Database.Postgres.Password = "secret"

	settings := cfg.DatabaseSettings()
	assert.Equal(t, "postgres", settings.Driver)
	assert.Equal(t, "db.internal", settings.Host)
	assert.Equal(t, 5432, settings.Port)
	assert.Equal(t, "parley", settings.Name)
	assert.Equal(t, "app", settings.User)
	assert.Equal(t, "secret", settings.Password)
}

func TestDatabaseSettingsDefaultsToSqlite(t *testing.T) {
	cfg := &Config{}
	settings := cfg.DatabaseSettings()
	assert.Equal(t, "sqlite", settings.Driver)
}

func TestRedisClientConfigTrimsAddress(t *testing.T) {
	cfg := &Config{}
	cfg.Cache.Redis.Address = " 127.0.0.1:6379 "
	cfg.Cache.Redis.DB = 2
	cfg.Cache.Redis.Timeout = 2 * time.Second

	rc := cfg.RedisClientConfig()
	assert.Equal(t, "127.0.0.1:6379", rc.Address)
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, 2*time.Second, rc.Timeout)
}
