package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigManager manages runtime configuration with hot reload support.
type ConfigManager struct {
	config     *Config
	configFile string
	mu         sync.RWMutex
	onUpdate   func(old, new *Config)
}

// NewConfigManager creates a new config manager.
func NewConfigManager(cfg *Config, configFile string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configFile: configFile,
	}
}

// SetOnUpdate sets the callback for config updates.
func (m *ConfigManager) SetOnUpdate(fn func(old, new *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// GetConfig returns the current config.
func (m *ConfigManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetConfigFile returns the config file path.
func (m *ConfigManager) GetConfigFile() string {
	return m.configFile
}

// GetSection returns a specific config section, keyed the same way
// UpdateSection accepts.
func (m *ConfigManager) GetSection(section string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch strings.ToLower(section) {
	case "storage":
		return m.config.Storage, nil
	case "logging":
		return m.config.Logging, nil
	default:
		return nil, fmt.Errorf("unknown section: %s", section)
	}
}

// UpdateSection updates a config section with hot-reload support. The
// "logging" section accepts level, format and output; the "storage"
// section accepts bufferPoolSize, lockTimeout, checkpointInterval and
// periodicCheckpoint. The validated result replaces the stored config
// and is handed to the update callback; UpdateSection itself does not
// apply it to a running engine.
func (m *ConfigManager) UpdateSection(section string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldConfig := m.config
	newConfig := copyConfig(oldConfig)

	switch strings.ToLower(section) {
	case "logging":
		if v, ok := data["level"].(string); ok {
			newConfig.Logging.Level = v
		}
		if v, ok := data["format"].(string); ok {
			newConfig.Logging.Format = v
		}
		if v, ok := data["output"].(string); ok {
			newConfig.Logging.Output = v
		}
	case "storage":
		if v, ok := data["bufferPoolSize"].(float64); ok {
			newConfig.Storage.BufferPoolSize = int(v)
		}
		if v, ok := data["lockTimeout"].(string); ok {
			if d, err := time.ParseDuration(v); err == nil {
				newConfig.Storage.LockTimeout = d
			}
		}
		if v, ok := data["checkpointInterval"].(string); ok {
			if d, err := time.ParseDuration(v); err == nil {
				newConfig.Storage.CheckpointInterval = d
			}
		}
		if v, ok := data["periodicCheckpoint"].(bool); ok {
			newConfig.Storage.PeriodicCheckpoint = v
		}
	default:
		return fmt.Errorf("unknown or read-only section: %s", section)
	}

	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs[0])
	}

	m.config = newConfig

	if m.onUpdate != nil {
		go m.onUpdate(oldConfig, newConfig)
	}

	return nil
}

// Reload reloads config from file.
func (m *ConfigManager) Reload() error {
	if m.configFile == "" {
		return fmt.Errorf("no config file configured")
	}

	newConfig, err := LoadConfig(m.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs[0])
	}

	m.mu.Lock()
	oldConfig := m.config
	m.config = newConfig
	onUpdate := m.onUpdate
	m.mu.Unlock()

	if onUpdate != nil {
		go onUpdate(oldConfig, newConfig)
	}

	return nil
}

// SaveToFile saves the current config to file as YAML.
func (m *ConfigManager) SaveToFile() error {
	if m.configFile == "" {
		return fmt.Errorf("no config file configured")
	}

	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// copyConfig creates a shallow copy of config; every field in Config is
// itself a value type, so this is also a deep copy.
func copyConfig(c *Config) *Config {
	newConfig := *c
	return &newConfig
}
