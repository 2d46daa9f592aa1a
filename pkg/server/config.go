package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/chatrelay/pkg/datastore"
	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Config holds server configuration. Every field can be set from the YAML
// config file; the server binary lets flags override the file.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`  // TCP bind address (e.g. ":5555")
	WSAddr      string `yaml:"ws_addr"`      // WebSocket gateway bind address (empty = disabled)
	WSPath      string `yaml:"ws_path"`      // WebSocket upgrade path
	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics endpoint (empty = disabled)
	DBPath      string `yaml:"db_path"`      // SQLite database path

	TLS      bool   `yaml:"tls"`       // serve the stream listener over TLS
	CertFile string `yaml:"cert_file"` // TLS certificate file path
	KeyFile  string `yaml:"key_file"`  // TLS private key file path
	DataDir  string `yaml:"data_dir"`  // directory for generated certs

	AdminCredential string `yaml:"admin_credential"` // plaintext or bcrypt hash
	UserCredential  string `yaml:"user_credential"`  // plaintext or bcrypt hash

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // 0 = no deadline
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // 0 = no deadline
	MaxMessage       int           `yaml:"max_message"`       // bytes per delivery unit
	Framing          string        `yaml:"framing"`           // "line" or "raw"
	HistoryLimit     int           `yaml:"history_limit"`     // messages returned by CMD_HISTORY

	Rooms     []string `yaml:"rooms"`      // rooms created at startup
	WSOrigins []string `yaml:"ws_origins"` // allowed Origin headers (empty = same host only)

	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // 0 = disabled
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":5555",
		WSPath:             "/ws",
		MetricsAddr:        ":9602",
		DBPath:             "chatrelay.db",
		DataDir:            ".",
		AdminCredential:    "admin123",
		UserCredential:     "chat@123",
		HandshakeTimeout:   30 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxMessage:         protocol.DefaultMaxMessage,
		Framing:            protocol.FramingLine.String(),
		HistoryLimit:       datastore.DefaultHistoryLimit,
		Rooms:              []string{model.DefaultRoomID},
		MetricsLogInterval: 60 * time.Second,
	}
}

// LoadConfigFile reads a YAML config file on top of base. Keys missing from
// the file keep the value from base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return base, fmt.Errorf("server: read config: %w", err)
	}
	return ParseConfigYAML(data, base)
}

// ParseConfigYAML parses YAML data on top of base.
func ParseConfigYAML(data []byte, base Config) (Config, error) {
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("server: parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" && c.WSAddr == "" {
		errs = append(errs, errors.New("no listener configured (listen_addr and ws_addr are empty)"))
	}
	if c.AdminCredential == "" || c.UserCredential == "" {
		errs = append(errs, errors.New("admin_credential and user_credential must be set"))
	}
	if c.AdminCredential != "" && c.AdminCredential == c.UserCredential {
		errs = append(errs, errors.New("admin_credential and user_credential must differ"))
	}
	if c.MaxMessage <= 0 {
		errs = append(errs, fmt.Errorf("max_message must be positive, got %d", c.MaxMessage))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit))
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if _, err := protocol.ParseFraming(c.Framing); err != nil {
		errs = append(errs, err)
	}
	for _, r := range c.Rooms {
		if err := model.ValidateRoomID(r); err != nil {
			errs = append(errs, fmt.Errorf("room %q: %w", r, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("server: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// BanYAML represents a ban in YAML export.
type BanYAML struct {
	Nickname  string `yaml:"nickname"`
	Reason    string `yaml:"reason,omitempty"`
	BannedBy  string `yaml:"banned_by,omitempty"`
	CreatedAt string `yaml:"created_at"`
}

// BansExport is the top-level YAML for ban export.
type BansExport struct {
	Bans []BanYAML `yaml:"bans"`
}

// ExportBansYAML exports the ban list as YAML.
func ExportBansYAML(ctx context.Context, st datastore.BanReadProvider) ([]byte, error) {
	bans, err := st.ListBans(ctx)
	if err != nil {
		return nil, err
	}

	export := BansExport{Bans: []BanYAML{}}
	for _, b := range bans {
		export.Bans = append(export.Bans, BanYAML{
			Nickname:  b.Nickname,
			Reason:    b.Reason,
			BannedBy:  b.BannedBy,
			CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
