package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/NicolasHaas/chatrelay/pkg/crypto"
	"github.com/NicolasHaas/chatrelay/pkg/datastore"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/server"
	"github.com/NicolasHaas/chatrelay/pkg/version"
)

type cliOptions struct {
	configPath     string
	logLevel       string
	logFormat      string
	showVersion    bool
	exportBans     bool
	hashCredential string
	rooms          string
}

// newFlagSet binds every server flag to cfg, so flags override whatever cfg
// already holds.
func newFlagSet(cfg *server.Config, opts *cliOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("chatrelay-server", flag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", "", "YAML config file (flags override its values)")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP/TLS chat bind address (empty to disable)")
	fs.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "WebSocket gateway bind address (empty to disable)")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "WebSocket upgrade path")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	fs.BoolVar(&cfg.TLS, "tls", cfg.TLS, "Serve the chat listener over TLS")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file (auto-generated if empty)")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS private key file (auto-generated if empty)")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	fs.StringVar(&cfg.AdminCredential, "admin-credential", cfg.AdminCredential, "Admin credential (plaintext or bcrypt hash)")
	fs.StringVar(&cfg.UserCredential, "user-credential", cfg.UserCredential, "User credential (plaintext or bcrypt hash)")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Time allowed to finish the handshake (0 = unlimited)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-message write deadline (0 = unlimited)")
	fs.IntVar(&cfg.MaxMessage, "max-message", cfg.MaxMessage, "Largest accepted message in bytes")
	fs.StringVar(&cfg.Framing, "framing", cfg.Framing, "Stream framing: line or raw")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "Messages returned by a history request")
	fs.DurationVar(&cfg.MetricsLogInterval, "metrics-log-interval", cfg.MetricsLogInterval, "Interval for metrics summary log lines (0 = disabled)")
	fs.StringVar(&opts.rooms, "rooms", strings.Join(cfg.Rooms, ","), "Comma-separated rooms created on startup")

	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: "+logging.LevelNames())
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&opts.exportBans, "export-bans", false, "Export all bans as YAML and exit")
	fs.StringVar(&opts.hashCredential, "hash-credential", "", "Print the bcrypt hash of a credential and exit")
	return fs
}

// parseConfig reads -config first, then applies the command line on top of
// the file's values.
func parseConfig(args []string) (server.Config, cliOptions, error) {
	var opts cliOptions
	cfg := server.DefaultConfig()

	probe := newFlagSet(&cfg, &opts)
	probe.SetOutput(io.Discard)
	if err := probe.Parse(args); err != nil {
		return cfg, opts, err
	}

	cfg = server.DefaultConfig()
	if opts.configPath != "" {
		fileCfg, err := server.LoadConfigFile(opts.configPath, cfg)
		if err != nil {
			return cfg, opts, err
		}
		cfg = fileCfg
	}

	opts = cliOptions{}
	fs := newFlagSet(&cfg, &opts)
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	cfg.Rooms = splitRooms(opts.rooms)
	return cfg, opts, nil
}

func splitRooms(list string) []string {
	var rooms []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

func main() {
	cfg, opts, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid arguments: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if opts.hashCredential != "" {
		hash, err := crypto.HashCredential(opts.hashCredential)
		if err != nil {
			slog.Error("hash credential", "err", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Handle export commands (run and exit)
	if opts.exportBans {
		st, err := datastore.Open(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		data, err := server.ExportBansYAML(context.Background(), st)
		if err != nil {
			slog.Error("export bans", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	st, err := datastore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	slog.Info("starting chatrelay", "version", version.String())
	srv := server.New(cfg, server.Dependencies{Messages: st, Bans: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
