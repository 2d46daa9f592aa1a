package client

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores the last used connection details, persisted as YAML.
// Credentials are never stored.
type Settings struct {
	Addr     string `yaml:"addr"`
	Nickname string `yaml:"nickname,omitempty"`
	Room     string `yaml:"room,omitempty"`
	TLS      bool   `yaml:"tls,omitempty"`
	Framing  string `yaml:"framing,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Addr:    "127.0.0.1:5555",
		Framing: "line",
	}
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatrelay-client.yaml"
	}
	return filepath.Join(dir, "chatrelay", "client.yaml")
}

// LoadSettings loads settings from YAML or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // user settings file
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
