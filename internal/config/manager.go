package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads the configuration from file.
// If the file doesn't exist, creates a default config file.
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Try to read config file
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		// If file doesn't exist, create default config
		if os.IsNotExist(err) {
			config := DefaultConfig()
			if saveErr := m.saveUnsafe(config); saveErr != nil {
				return nil, fmt.Errorf("failed to create default config: %w", saveErr)
			}
			m.config = config
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Unmarshal YAML over the defaults so sparse files stay usable
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m.config = config
	return config, nil
}

// saveUnsafe saves config without locking (internal use)
func (m *Manager) saveUnsafe(config *Config) error {
	// Validate before saving
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write config to temp file first (atomic write)
	tempPath := m.configPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, m.configPath); err != nil {
		os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	m.config = config
	return nil
}

// Save saves the configuration to file
func (m *Manager) Save(config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveUnsafe(config)
}

// Get returns the currently loaded configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultConfig()
	}

	// Return a copy to prevent concurrent modification
	config := *m.config
	return &config
}

// GetConfigModTime returns the modification time of the config file
func (m *Manager) GetConfigModTime() (time.Time, error) {
	info, err := os.Stat(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// WatchConfig watches for config file changes (basic implementation)
func (m *Manager) WatchConfig(interval time.Duration, onChange func(*Config, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastModTime, _ := m.GetConfigModTime()

	for range ticker.C {
		currentModTime, err := m.GetConfigModTime()
		if err != nil {
			onChange(nil, err)
			continue
		}

		if currentModTime.After(lastModTime) {
			config, err := m.Load()
			onChange(config, err)
			lastModTime = currentModTime
		}
	}
}
