package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manager owns the user-level config file.
type Manager struct {
	configDir string
}

// NewManager returns a manager for $UserConfigDir/cpta.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{configDir: filepath.Join(configDir, "cpta")}, nil
}

// NewManagerAt returns a manager for dir.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the directory searched for the user config.
func (m *Manager) Dir() string {
	return m.configDir
}

// Path returns the absolute path to the user config file.
func (m *Manager) Path() string {
	return filepath.Join(m.configDir, FileName+".yaml")
}

// Load resolves the configuration with the user config dir as the
// fallback search location.
func (m *Manager) Load(file string) (*Config, string, error) {
	return Load(file, m.configDir)
}

// Save writes cfg with owner-only permissions, since it may hold an API
// key.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether the user config file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return !errors.Is(err, fs.ErrNotExist)
}
