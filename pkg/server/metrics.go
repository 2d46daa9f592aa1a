package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted (stream + websocket)
	ActiveConnections atomic.Int64 // current open connections
	FailedAuths       atomic.Int64 // wrong credential at AWAIT_PASSWORD
	SuccessfulAuths   atomic.Int64 // sessions that reached ADMITTED
	BannedRejects     atomic.Int64 // banned nicknames turned away
	TotalDisconnects  atomic.Int64 // admitted sessions that ended

	// Relay counters
	ChatMessagesRelayed atomic.Int64 // chat messages fanned out
	Evictions           atomic.Int64 // members removed after a failed send
	HistoryRequests     atomic.Int64 // CMD_HISTORY requests served

	// Room counters
	RoomsCreated atomic.Int64 // rooms created during this run

	// Admin counters
	KickCount         atomic.Int64 // users kicked
	BanCount          atomic.Int64 // users banned
	PrivilegeRefusals atomic.Int64 // admin commands refused to non-admins
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	BannedRejects     int64 `json:"banned_rejects"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	ChatMessagesRelayed int64 `json:"chat_messages_relayed"`
	Evictions           int64 `json:"evictions"`
	HistoryRequests     int64 `json:"history_requests"`

	RoomsCreated int64 `json:"rooms_created"`

	KickCount         int64 `json:"kick_count"`
	BanCount          int64 `json:"ban_count"`
	PrivilegeRefusals int64 `json:"privilege_refusals"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		SuccessfulAuths:     m.SuccessfulAuths.Load(),
		FailedAuths:         m.FailedAuths.Load(),
		BannedRejects:       m.BannedRejects.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		ChatMessagesRelayed: m.ChatMessagesRelayed.Load(),
		Evictions:           m.Evictions.Load(),
		HistoryRequests:     m.HistoryRequests.Load(),
		RoomsCreated:        m.RoomsCreated.Load(),
		KickCount:           m.KickCount.Load(),
		BanCount:            m.BanCount.Load(),
		PrivilegeRefusals:   m.PrivilegeRefusals.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"admitted", s.SuccessfulAuths,
		"chat_msgs", s.ChatMessagesRelayed,
		"evictions", s.Evictions,
		"rooms", s.RoomsCreated,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
