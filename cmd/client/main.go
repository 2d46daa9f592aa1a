package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/client"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
	"github.com/NicolasHaas/chatrelay/pkg/version"
)

func main() {
	// Default to "warn" so log lines don't mix with chat; override with
	// CHATRELAY_LOG_LEVEL (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		level = v
	}
	format := "text"
	if v := os.Getenv("CHATRELAY_LOG_FORMAT"); v != "" {
		format = v
	}
	_ = logging.Setup(logging.Options{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})

	settingsPath := client.SettingsPath()
	saved := client.LoadSettings(settingsPath)

	var opts client.Options
	framing := saved.Framing
	flag.StringVar(&opts.Addr, "addr", saved.Addr, "Server address (host:port)")
	flag.StringVar(&opts.Nickname, "nick", saved.Nickname, "Nickname (prompted if empty)")
	flag.StringVar(&opts.Room, "room", saved.Room, "Room to join (empty = server default)")
	flag.StringVar(&opts.Credential, "credential", "", "Server credential (prompted if empty)")
	flag.BoolVar(&opts.TLS, "tls", saved.TLS, "Connect over TLS")
	flag.BoolVar(&opts.InsecureSkipVerify, "insecure", false, "Accept self-signed server certificates")
	flag.StringVar(&framing, "framing", framing, "Stream framing: line or raw")
	flag.IntVar(&opts.MaxMessage, "max-message", protocol.DefaultMaxMessage, "Largest accepted message in bytes")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	f, err := protocol.ParseFraming(framing)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts.Framing = f

	stdin := bufio.NewScanner(os.Stdin)
	if opts.Credential == "" {
		opts.Credential = prompt(stdin, "Credential: ")
	}
	if opts.Nickname == "" {
		opts.Nickname = prompt(stdin, "Nickname: ")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, opts)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", opts.Addr, err)
		os.Exit(1)
	}
	defer c.Close()

	room, err := c.Handshake()
	switch {
	case errors.Is(err, client.ErrRefused):
		fmt.Fprintln(os.Stderr, "Connection refused: check the credential and nickname.")
		os.Exit(1)
	case errors.Is(err, client.ErrBanned):
		fmt.Fprintln(os.Stderr, "You are banned from this server.")
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "handshake: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to room %s. Commands: /history, /kick <nick>, /ban <nick>\n", room)

	saved.Addr, saved.Nickname, saved.Room, saved.TLS, saved.Framing = opts.Addr, opts.Nickname, opts.Room, opts.TLS, f.String()
	if err := saved.Save(settingsPath); err != nil {
		slog.Warn("save settings", "path", settingsPath, "err", err)
	}

	c.SetEventHandler(func(msg string) { fmt.Println(msg) })
	c.StartReceiving()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			if errors.Is(c.Err(), client.ErrKicked) {
				os.Exit(1)
			}
			fmt.Fprintln(os.Stderr, "Disconnected from server.")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.SendLine(line); err != nil {
				if !protocol.IsClosed(err) {
					slog.Error("send", "err", err)
				}
				return
			}
		}
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}
