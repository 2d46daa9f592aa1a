package server

import (
	"sort"
	"sync"
)

// Room is a named broadcast group. Its member set is guarded by the owning
// Registry's lock.
type Room struct {
	ID      string
	members map[*Session]struct{}
}

// RoomInfo is a point-in-time description of a room.
type RoomInfo struct {
	ID      string   `json:"id" yaml:"id"`
	Members []string `json:"members" yaml:"members"`
}

// Registry maps room ids to rooms. A single mutex guards the map and every
// room's member set; it is never held across a send.
//
// Empty rooms are retained for the lifetime of the process.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	nextSeq uint64

	metrics *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		metrics: metrics,
	}
}

// GetOrCreate returns the room for roomID, creating it on first reference.
func (r *Registry) GetOrCreate(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := &Room{ID: roomID, members: make(map[*Session]struct{})}
	r.rooms[roomID] = room
	if r.metrics != nil {
		r.metrics.RoomsCreated.Add(1)
	}
	return room
}

// Join adds sess to room, leaving any room it was in before.
func (r *Registry) Join(room *Room, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.room != nil && sess.room != room {
		delete(sess.room.members, sess)
	}
	if _, ok := room.members[sess]; !ok {
		r.nextSeq++
		sess.joinSeq = r.nextSeq
	}
	room.members[sess] = struct{}{}
	sess.room = room
	sess.lastRoom = room
}

// FindSession locates the room sess currently belongs to.
func (r *Registry) FindSession(sess *Session) (*Room, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess.room == nil {
		return nil, "", false
	}
	return sess.room, sess.nickname, true
}

// LastRoom returns the room sess was most recently admitted to, even after
// it has been removed from it.
func (r *Registry) LastRoom(sess *Session) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.lastRoom
}

// Remove deletes sess from room. It reports true only to the caller that
// actually removed it.
func (r *Registry) Remove(room *Room, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(room, sess)
}

func (r *Registry) removeLocked(room *Room, sess *Session) bool {
	if _, ok := room.members[sess]; !ok {
		return false
	}
	delete(room.members, sess)
	if sess.room == room {
		sess.room = nil
	}
	return true
}

// RemoveNickname removes the earliest joined member of room with the given
// nickname and returns it.
func (r *Registry) RemoveNickname(room *Room, nickname string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *Session
	for m := range room.members {
		if m.nickname != nickname {
			continue
		}
		if target == nil || m.joinSeq < target.joinSeq {
			target = m
		}
	}
	if target == nil {
		return nil, false
	}
	r.removeLocked(room, target)
	return target, true
}

// Members returns a snapshot of room's members in join order.
func (r *Registry) Members(room *Room) []*Session {
	r.mu.Lock()
	members := make([]*Session, 0, len(room.members))
	for m := range room.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].joinSeq < members[j].joinSeq
	})
	return members
}

// Contains reports whether sess is a member of room.
func (r *Registry) Contains(room *Room, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := room.members[sess]
	return ok
}

// Rooms lists every room with its member nicknames, sorted by room id.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		info := RoomInfo{ID: room.ID, Members: []string{}}
		for _, m := range r.Members(room) {
			info.Members = append(info.Members, m.nickname)
		}
		infos = append(infos, info)
	}
	return infos
}
