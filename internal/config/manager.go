package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	BaseURL            string `json:"base_url,omitempty"`             // Chat backend endpoint
	APIKey             string `json:"api_key,omitempty"`              // Bearer token for the backend
	UserID             string `json:"user_id,omitempty"`              // Stable user identifier
	EmployeeSlug       string `json:"employee_slug,omitempty"`        // Default assistant to talk to
	MaxUploadSize      string `json:"max_upload_size,omitempty"`      // Human-readable, e.g. "10MB"
	DedupWindowSeconds int    `json:"dedup_window_seconds,omitempty"` // History reconciliation window
}

// ApplyEnv overlays PARLEY_* environment variables onto the config.
// Environment wins over the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PARLEY_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("PARLEY_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("PARLEY_EMPLOYEE"); v != "" {
		c.EmployeeSlug = v
	}
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	return &Manager{
		configDir: filepath.Join(configDir, "parley"),
	}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// GetDataDir returns the directory holding session state.
func (m *Manager) GetDataDir() string {
	return filepath.Join(m.configDir, "state")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := m.GetConfigPath()
	// The config carries an API key: owner read/write only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
