package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides: MYHOOK_TUNNEL_TOKEN_SECRET
	EnvPrefix = "MYHOOK"
	// FileName is the base name searched for in the standard locations
	FileName = "myhook"
)

// SearchPaths returns the directories searched for myhook.yaml
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".myhook"))
	}
	return append(paths, "/etc/myhook")
}

// FindConfigFile returns the first myhook.yaml or myhook.yml in paths
func FindConfigFile(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, FileName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// newViper builds a viper instance carrying every default and env binding
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var defaults map[string]any
	raw, _ := yaml.Marshal(Default())
	_ = yaml.Unmarshal(raw, &defaults)
	setDefaults(v, "", defaults)
	return v
}

// setDefaults registers nested defaults key by key so each one is also
// reachable through its environment variable.
func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
		_ = v.BindEnv(key)
	}
}

// Load reads configFile, or the first file found in SearchPaths when it is
// empty, applies environment overrides and validates the result. It also
// returns the file actually used, "" when running on defaults and env only.
func Load(configFile string) (*Config, string, error) {
	v := newViper()

	if configFile == "" {
		configFile = FindConfigFile(SearchPaths())
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, configFile, nil
}

// Save writes cfg as YAML. The file may hold the token secret, so it is
// created owner-only.
func Save(cfg *Config, path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether path names an existing file
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
