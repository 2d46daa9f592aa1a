package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/chatrelay/pkg/datastore"
)

func TestParseConfigYAML(t *testing.T) {
	t.Parallel()
	data := []byte(`
listen_addr: ":7000"
ws_addr: ":7001"
framing: raw
handshake_timeout: 5s
history_limit: 20
rooms:
  - lobby
  - games
`)
	got, err := ParseConfigYAML(data, DefaultConfig())
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}

	want := DefaultConfig()
	want.ListenAddr = ":7000"
	want.WSAddr = ":7001"
	want.Framing = "raw"
	want.HandshakeTimeout = 5 * time.Second
	want.HistoryLimit = 20
	want.Rooms = []string{"lobby", "games"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	if err := os.WriteFile(path, []byte("db_path: /tmp/x.db\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfigFile(path, DefaultConfig())
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.DBPath != "/tmp/x.db" || cfg.ListenAddr != ":5555" {
		t.Errorf("LoadConfigFile = %+v", cfg)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultConfig()); err == nil {
		t.Errorf("LoadConfigFile(missing): expected error")
	}
	if _, err := ParseConfigYAML([]byte("rooms: {"), DefaultConfig()); err == nil {
		t.Errorf("ParseConfigYAML(broken): expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"defaults":        {mutate: func(*Config) {}},
		"no_listener":     {mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: "no listener"},
		"ws_only":         {mutate: func(c *Config) { c.ListenAddr = ""; c.WSAddr = ":8080" }},
		"same_credential": {mutate: func(c *Config) { c.UserCredential = c.AdminCredential }, wantErr: "must differ"},
		"no_credential":   {mutate: func(c *Config) { c.UserCredential = "" }, wantErr: "must be set"},
		"bad_framing":     {mutate: func(c *Config) { c.Framing = "json" }, wantErr: "unknown framing"},
		"bad_room":        {mutate: func(c *Config) { c.Rooms = []string{"a|b"} }, wantErr: `room "a|b"`},
		"zero_max":        {mutate: func(c *Config) { c.MaxMessage = 0 }, wantErr: "max_message"},
		"negative":        {mutate: func(c *Config) { c.WriteTimeout = -time.Second }, wantErr: "negative"},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate err = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestExportBansYAML(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := datastore.NewMemory()
	for _, n := range []string{"mallory", "eve"} {
		if err := st.AddBan(ctx, n, "spam", "admin"); err != nil {
			t.Fatalf("AddBan: %v", err)
		}
	}

	data, err := ExportBansYAML(ctx, st)
	if err != nil {
		t.Fatalf("ExportBansYAML: %v", err)
	}
	var export BansExport
	if err := yaml.Unmarshal(data, &export); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	var got []string
	for _, b := range export.Bans {
		got = append(got, b.Nickname)
		if b.Reason != "spam" || b.BannedBy != "admin" || b.CreatedAt == "" {
			t.Errorf("ban %+v missing fields", b)
		}
	}
	if diff := cmp.Diff([]string{"mallory", "eve"}, got); diff != "" {
		t.Errorf("exported bans mismatch (-want +got):\n%s", diff)
	}
}
