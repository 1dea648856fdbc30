package ws

import (
	"errors"
	"sync"
)

var ErrNoRoom = errors.New("no room")

// RoomObserver hears about rooms appearing and disappearing.
// Calls happen under the registry lock, in transition order, so they must
// not block or call back into the registry.
type RoomObserver interface {
	RoomCreated(room string)
	RoomDestroyed(room string)
}

// Registry maps room keys to their local members.
// A room exists only while it has at least one member.
type Registry struct {
	mu    sync.Mutex
	rooms map[string][]*Conn // members in join order
	obs   RoomObserver
}

// NewRegistry creates an empty registry; obs may be nil
func NewRegistry(obs RoomObserver) *Registry {
	return &Registry{rooms: map[string][]*Conn{}, obs: obs}
}

// Join puts c in room, moving it out of any other room first.
// A connection already removed can't join again.
func (r *Registry) Join(room string, c *Conn) error {
	if room == "" {
		return ErrNoRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}

	cur := c.Room()
	if cur == room {
		return nil
	}
	if cur != "" {
		r.leaveLocked(cur, c)
	}

	members, exists := r.rooms[room]
	r.rooms[room] = append(members, c)
	c.setRoom(room)
	if !exists && r.obs != nil {
		r.obs.RoomCreated(room)
	}
	return nil
}

// Leave takes c out of its room; false if it had none
func (r *Registry) Leave(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := c.Room()
	if room == "" {
		return false
	}
	r.leaveLocked(room, c)
	return true
}

// Remove takes c out of its room for good; later joins fail
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.closed = true
	if room := c.Room(); room != "" {
		r.leaveLocked(room, c)
	}
}

func (r *Registry) leaveLocked(room string, c *Conn) {
	c.setRoom("")

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	for i, m := range members {
		if m == c {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) > 0 {
		r.rooms[room] = members
		return
	}

	delete(r.rooms, room)
	if r.obs != nil {
		r.obs.RoomDestroyed(room)
	}
}

// Members returns a snapshot of room's members, nil if the room does not exist
func (r *Registry) Members(room string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Conn, len(members))
	copy(out, members)
	return out
}

// Rooms returns member counts keyed by room
func (r *Registry) Rooms() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		out[room] = len(members)
	}
	return out
}

// Len is the number of rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
