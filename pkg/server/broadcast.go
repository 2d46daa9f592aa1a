package server

import (
	"log/slog"

	"github.com/NicolasHaas/chatrelay/pkg/logging"
)

// Broadcaster delivers payloads to every current member of a room.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	log      *slog.Logger
}

// NewBroadcaster creates a broadcaster over registry. metrics may be nil.
func NewBroadcaster(registry *Registry, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		log:      logging.Component("broadcast"),
	}
}

// Broadcast sends payload to the members of room at call time and returns the
// number of successful deliveries. A member whose send fails is removed from
// the room and its connection closed; delivery to the others continues.
func (b *Broadcaster) Broadcast(room *Room, payload []byte) int {
	members := b.registry.Members(room)

	delivered := 0
	for _, m := range members {
		if err := m.Send(payload); err != nil {
			b.evict(room, m, err)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastString is Broadcast for text payloads.
func (b *Broadcaster) BroadcastString(room *Room, payload string) int {
	return b.Broadcast(room, []byte(payload))
}

func (b *Broadcaster) evict(room *Room, m *Session, err error) {
	if !b.registry.Remove(room, m) {
		return
	}
	m.Close()
	if b.metrics != nil {
		b.metrics.Evictions.Add(1)
	}
	b.log.Warn("evicted unreachable member", "room", room.ID, "nick", m.Nickname(), "session", m.ID, "err", err)
}
