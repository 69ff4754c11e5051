package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML or TOML config file. The file is a
// flat table keyed by the same names as the environment variables:
//
//	POSTGRES_HOST: db.internal
//	UNDO_AUTOSAVE_DELAY: 2s
const ConfigFileEnv = "UNDOTREE_CONFIG_FILE"

// source resolves keys from the environment first, then from the config file
type source struct {
	file map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	value, ok := s.file[key]
	return value, ok && value != ""
}

func loadSource(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config file: %w", err)
	}

	var values map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &values)
	case ".toml":
		err = toml.Unmarshal(raw, &values)
	default:
		return source{}, fmt.Errorf("unsupported config file type: %s", path)
	}
	if err != nil {
		return source{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	file := make(map[string]string, len(values))
	for key, value := range values {
		switch value.(type) {
		case map[string]any, []any:
			return source{}, fmt.Errorf("config file key %s: nested values are not supported", key)
		}
		file[strings.ToUpper(key)] = fmt.Sprint(value)
	}

	return source{file: file}, nil
}
