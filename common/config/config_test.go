package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("undotree-api")
	require.NoError(t, err)

	assert.Equal(t, "undotree-api", cfg.Service.Name)
	assert.Equal(t, 500, cfg.Undo.MaxTreeDepth)
	assert.Equal(t, 50, cfg.Undo.MaxBranchesPerNode)
	assert.Equal(t, time.Second, cfg.Undo.AutosaveDelay)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("UNDO_AUTOSAVE_DELAY", "250ms")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_PORT", "not-a-number")

	cfg, err := Load("undotree-api")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Undo.AutosaveDelay)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestValidate(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memcached")
	_, err := Load("undotree-api")
	assert.ErrorContains(t, err, "unknown cache backend")

	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("UNDO_SAVE_ATTEMPTS", "0")
	_, err = Load("undotree-api")
	assert.ErrorContains(t, err, "save attempts")
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, Database: "hist"}}
	assert.Equal(t, "postgres://u:p@db:5433/hist?sslmode=disable", cfg.DatabaseURL())
}

func TestValidate_RateLimitNeedsRedis(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	_, err := Load("undotree-api")
	assert.ErrorContains(t, err, "redis cache backend")

	t.Setenv("CACHE_BACKEND", "redis")
	cfg, err := Load("undotree-api")
	require.NoError(t, err)
	assert.Equal(t, int64(120), cfg.RateLimit.SaveLimit)
}

func TestLoad_DatabaseDriver(t *testing.T) {
	cfg, err := Load("undotree-api")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)

	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/trees.db")
	cfg, err = Load("undotree-api")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/trees.db", cfg.Database.SQLitePath)

	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err = Load("undotree-api")
	assert.ErrorContains(t, err, "unknown database driver")
}
