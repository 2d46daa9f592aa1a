package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Listen opens the stream listener on cfg.ListenAddr, wrapped in TLS when
// cfg.TLS is set.
func (s *Server) Listen() (net.Listener, error) {
	if !s.cfg.TLS {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("server: listen: %w", err)
		}
		return ln, nil
	}

	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("server: tls: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("server: listen tls: %w", err)
	}
	return ln, nil
}

// Serve accepts stream connections on ln until ln is closed or the server
// shuts down. Each connection is handled on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	if !s.track(ln) {
		_ = ln.Close()
		return net.ErrClosed
	}
	slog.Info("stream listener running", "addr", ln.Addr().String(), "framing", s.framing, "tls", s.cfg.TLS)

	opts := protocol.StreamOptions{
		Framing:      s.framing,
		MaxMessage:   s.cfg.MaxMessage,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.HandleConn(protocol.NewStreamConn(conn, opts))
		}()
	}
}

// WebSocketHandler upgrades requests to WebSocket and runs each connection
// through the same handshake and dispatcher as stream clients.
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(s.cfg.WSOrigins) > 0 {
		upgrader.CheckOrigin = s.checkOrigin
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		if s.closed.Load() {
			http.Error(w, protocol.NoticeShutdown, http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		s.conns.Add(1)
		defer s.conns.Done()
		s.HandleConn(protocol.NewWSConn(ws, s.cfg.MaxMessage, s.cfg.WriteTimeout))
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(s.cfg.WSOrigins, origin) || slices.Contains(s.cfg.WSOrigins, u.Host)
}

// StartWebSocket serves the WebSocket gateway on cfg.WSAddr in the background.
func (s *Server) StartWebSocket() error {
	if s.cfg.WSAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("server: listen websocket: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.WSPath, s.WebSocketHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.httpSrvs = append(s.httpSrvs, srv)
	s.mu.Unlock()

	go func() {
		slog.Info("websocket gateway listening", "addr", ln.Addr().String(), "path", s.cfg.WSPath)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket gateway error", "err", err)
		}
	}()
	return nil
}

// HandleConn runs one connection from handshake to disconnect.
func (s *Server) HandleConn(conn protocol.Conn) {
	sess := NewSession(conn)
	s.sessions.Add(sess)
	defer s.sessions.Remove(sess.ID)

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", conn.RemoteAddr(), "session", sess.ID)

	if s.closed.Load() {
		_ = sess.SendString(protocol.NoticeShutdown)
		sess.Close()
		return
	}

	if _, err := s.handshake.Run(s.ctx, sess); err != nil {
		slog.Info("handshake failed", "remote", conn.RemoteAddr(), "state", sess.State(), "err", err)
		return
	}
	s.dispatcher.Serve(s.ctx, sess)
}

func (s *Server) track(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners = append(s.listeners, ln)
	return true
}
