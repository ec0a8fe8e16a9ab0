package corpustune

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "corpustune.json"

// LoadConfig loads configuration from the given path or the default corpustune.json.
// A missing file yields DefaultConfig; keys present in the file override it,
// including explicit zero values. Files ending in .yaml or .yml are decoded as YAML.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Tokenizer.CacheDir != "" {
		if err := os.MkdirAll(cfg.Tokenizer.CacheDir, 0o755); err != nil {
			return cfg, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Filter.MaxTokens < 0 {
		return fmt.Errorf("filter max tokens must not be negative, got %d", c.Filter.MaxTokens)
	}
	if c.Augment.Rate < 0 || c.Augment.Rate > 1 {
		return fmt.Errorf("augment rate %v outside [0,1]", c.Augment.Rate)
	}
	if c.Augment.Replacements < 0 {
		return fmt.Errorf("augment replacements must not be negative, got %d", c.Augment.Replacements)
	}
	if c.Search.Trials <= 0 {
		return fmt.Errorf("search trials must be positive, got %d", c.Search.Trials)
	}
	if err := c.Search.Space.Validate(); err != nil {
		return fmt.Errorf("search space: %w", err)
	}
	return nil
}

// ResolvePath joins relative paths onto the configured work directory.
func (c Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.WorkDir, path)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
