package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MetricsHandler serves /metrics in Prometheus text exposition format,
// /metrics.json, /rooms and /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.metrics.JSON()))
	})
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.registry.Rooms())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// StartMetricsHTTP starts the metrics HTTP server in the background. It
// shuts down when the server context is cancelled.
//
// Bind address is :9602 by default, configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("chatrelay_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("chatrelay_connections_active", "Current open client connections.", "gauge",
		m.ActiveConnections.Load())
	write("chatrelay_connections_total", "Lifetime client connections accepted.", "counter",
		m.TotalConnections.Load())
	write("chatrelay_sessions_live", "Sessions currently handshaking or admitted.", "gauge",
		int64(s.sessions.Count()))
	write("chatrelay_disconnects_total", "Admitted sessions that ended.", "counter",
		m.TotalDisconnects.Load())

	write("chatrelay_auth_success_total", "Sessions admitted to a room.", "counter",
		m.SuccessfulAuths.Load())
	write("chatrelay_auth_failed_total", "Connections refused for a wrong credential.", "counter",
		m.FailedAuths.Load())
	write("chatrelay_banned_rejects_total", "Connections refused for a banned nickname.", "counter",
		m.BannedRejects.Load())

	write("chatrelay_chat_messages_total", "Total chat messages relayed.", "counter",
		m.ChatMessagesRelayed.Load())
	write("chatrelay_evictions_total", "Members removed after a failed send.", "counter",
		m.Evictions.Load())
	write("chatrelay_history_requests_total", "History requests served.", "counter",
		m.HistoryRequests.Load())

	write("chatrelay_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())

	write("chatrelay_kicks_total", "Users kicked.", "counter",
		m.KickCount.Load())
	write("chatrelay_bans_total", "Users banned.", "counter",
		m.BanCount.Load())
	write("chatrelay_privilege_refusals_total", "Admin commands refused to non-admins.", "counter",
		m.PrivilegeRefusals.Load())
}
