package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.App.IsDev())
	assert.Equal(t, ":8080", cfg.App.Addr())
	assert.Equal(t, "allocation.db", cfg.DB.Path)
	assert.False(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Second, cfg.Allocation.LockTTL)
	assert.Len(t, cfg.CORS.AllowedOrigins, 2)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ALLOC_APP_ENV", "prod")
	t.Setenv("ALLOC_APP_PORT", "9090")
	t.Setenv("ALLOC_APP_LOG_FORMAT", "console")
	t.Setenv("ALLOC_DB_PATH", ":memory:")
	t.Setenv("ALLOC_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("ALLOC_SCHEDULER_INTERVAL", "15m")
	t.Setenv("ALLOC_CORS_ALLOWED_ORIGINS", "https://ops.example.com")
	t.Setenv("ALLOC_ALLOCATION_LOCK_TTL", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.App.IsProd())
	assert.Equal(t, ":9090", cfg.App.Addr())
	assert.Equal(t, ":memory:", cfg.DB.Path)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Allocation.LockTTL)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("ALLOC_APP_LOG_FORMAT", "xml")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ALLOC_APP_LOG_FORMAT", "json")
	t.Setenv("ALLOC_APP_PORT", "not-a-port")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("ALLOC_APP_PORT", "8080")
	t.Setenv("ALLOC_ALLOCATION_LOCK_TTL", "0s")
	_, err = Load()
	assert.Error(t, err)
}
