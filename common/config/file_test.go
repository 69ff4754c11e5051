package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfigFile(t, "undotree.yaml", `
PORT: 9100
UNDO_AUTOSAVE_DELAY: 2s
CACHE_ENABLED: false
postgres_host: db.internal
`)
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PORT", "9200")

	cfg, err := Load("undotree-api")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Service.Port, "environment wins over the file")
	assert.Equal(t, 2*time.Second, cfg.Undo.AutosaveDelay)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfigFile(t, "undotree.toml", `
UNDO_MAX_TREE_DEPTH = 64
DATABASE_DRIVER = "memory"
`)
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load("undotree-api")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Undo.MaxTreeDepth)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestLoad_BadConfigFile(t *testing.T) {
	tests := []struct {
		name, file, content, want string
	}{
		{"unknown extension", "undotree.ini", "PORT=1", "unsupported config file type"},
		{"nested value", "undotree.yaml", "POSTGRES:\n  HOST: x\n", "nested values"},
		{"syntax error", "undotree.toml", "PORT = ", "parse config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(ConfigFileEnv, writeConfigFile(t, tt.file, tt.content))
			_, err := Load("undotree-api")
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load("undotree-api")
		assert.ErrorContains(t, err, "read config file")
	})
}
