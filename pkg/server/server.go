// Package server implements the chatrelay server: the session handshake,
// the room registry, the broadcast engine and the command dispatcher, plus
// the stream and WebSocket listeners that feed them.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Dependencies holds external dependencies for the server. Run closes each
// one that implements io.Closer on shutdown.
type Dependencies struct {
	Messages MessageLog
	Bans     BanList
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "server.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}

	// Generate self-signed certificate
	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"chatrelay"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	// Write cert
	certOut, err := os.Create(certPath) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		_ = certOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode cert: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close cert file: %w", err)
	}

	// Write key
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode key: %w", err)
	}
	if err := keyOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close key file: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

// Server is the main chatrelay server.
type Server struct {
	cfg         Config
	framing     protocol.Framing
	sessions    *SessionManager
	registry    *Registry
	broadcaster *Broadcaster
	handshake   *Handshaker
	dispatcher  *Dispatcher
	metrics     *Metrics
	messages    MessageLog
	bans        BanList

	mu        sync.Mutex
	listeners []net.Listener
	httpSrvs  []*http.Server
	conns     sync.WaitGroup
	closed    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance. cfg should have passed Validate; an
// unknown framing falls back to line framing.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	framing, _ := protocol.ParseFraming(cfg.Framing)

	metrics := NewMetrics()
	registry := NewRegistry(metrics)
	broadcaster := NewBroadcaster(registry, metrics)
	creds := Credentials{Admin: cfg.AdminCredential, User: cfg.UserCredential}

	for _, room := range cfg.Rooms {
		registry.GetOrCreate(room)
	}

	return &Server{
		cfg:         cfg,
		framing:     framing,
		sessions:    NewSessionManager(),
		registry:    registry,
		broadcaster: broadcaster,
		handshake:   NewHandshaker(creds, deps.Bans, registry, broadcaster, metrics, cfg.HandshakeTimeout),
		dispatcher:  NewDispatcher(registry, broadcaster, deps.Messages, deps.Bans, metrics, cfg.HistoryLimit),
		metrics:     metrics,
		messages:    deps.Messages,
		bans:        deps.Bans,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Registry returns the room registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Broadcaster returns the broadcast engine.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}
