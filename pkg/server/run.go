package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.messages == nil || s.bans == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer s.closeDependencies()

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// Start listeners
	if s.cfg.ListenAddr != "" {
		ln, err := s.Listen()
		if err != nil {
			return err
		}
		go func() {
			if err := s.Serve(ln); err != nil {
				slog.Error("stream listener stopped", "err", err)
			}
		}()
	}
	if err := s.StartWebSocket(); err != nil {
		s.Shutdown()
		return err
	}

	slog.Info("chatrelay server running",
		"listen", s.cfg.ListenAddr,
		"websocket", s.cfg.WSAddr,
		"rooms", len(s.registry.Rooms()),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	if s.cfg.MetricsLogInterval > 0 {
		s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	s.Wait(5 * time.Second)
	return nil
}

// Shutdown stops accepting connections, tells every live session the server
// is going away and closes it. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return
	}
	listeners := s.listeners
	httpSrvs := s.httpSrvs
	s.mu.Unlock()

	s.cancel()
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, srv := range httpSrvs {
		_ = srv.Close()
	}

	for _, sess := range s.sessions.All() {
		_ = sess.SendString(protocol.NoticeShutdown)
		sess.Close()
	}
}

// Wait blocks until every connection goroutine has returned or timeout elapses.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("connections still open after shutdown", "sessions", s.sessions.Count())
		return false
	}
}

// Context is cancelled when the server shuts down.
func (s *Server) Context() context.Context {
	return s.ctx
}

func (s *Server) closeDependencies() {
	closed := map[any]bool{}
	for _, dep := range []any{s.messages, s.bans} {
		c, ok := dep.(io.Closer)
		if !ok || closed[dep] {
			continue
		}
		closed[dep] = true
		if err := c.Close(); err != nil {
			slog.Error("close dependency", "err", err)
		}
	}
}
