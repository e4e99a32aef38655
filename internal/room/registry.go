package room

import (
	"sync"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
)

// Registry owns every active room, keyed by note id. A room exists while it
// has at least one member.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	maxMembers int
}

// NewRegistry creates an empty registry. maxMembers <= 0 means unlimited.
func NewRegistry(maxMembers int) *Registry {
	return &Registry{
		rooms:      make(map[string]*Room),
		maxMembers: maxMembers,
	}
}

// Join adds m to the room, creating it if needed. Joining twice is a no-op.
func (g *Registry) Join(roomID string, m Member) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[m.ID()]; !exists {
		if g.maxMembers > 0 && len(r.members) >= g.maxMembers {
			return nil, ErrRoomFull
		}
		r.members[m.ID()] = m
	}
	g.rooms[roomID] = r
	return r, nil
}

// Leave removes m and the presence entries it owns. The room is evicted
// when it becomes empty. ok is false if m was not a member.
func (g *Registry) Leave(roomID string, m Member) (released []Entry, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, exists := g.rooms[roomID]
	if !exists {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasLocked(m) {
		return nil, false
	}
	delete(r.members, m.ID())
	released = r.presence.release(m.ID())

	if len(r.members) == 0 {
		delete(g.rooms, roomID)
	}
	return released, true
}

// Room returns the active room, or nil
func (g *Registry) Room(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// Members returns a snapshot of the room's membership
func (g *Registry) Members(roomID string) []Member {
	r := g.Room(roomID)
	if r == nil {
		return nil
	}
	return r.Members()
}

// IsMember reports whether m is currently registered in the room
func (g *Registry) IsMember(roomID string, m Member) bool {
	r := g.Room(roomID)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasLocked(m)
}

// RecordJoin writes a presence entry owned by m and delivers the event
// announce builds from the new roster. The membership check, the write and
// the fan-out share one critical section, so a member that has left can
// never leave an entry behind.
func (g *Registry) RecordJoin(roomID string, m Member, sender protocol.SenderID, username string, announce func(protocol.Roster) []byte) (Delivery, error) {
	r := g.Room(roomID)
	if r == nil {
		return Delivery{}, ErrUnknownRoom
	}
	return r.update(m, func(p *Presence) []byte {
		roster := p.Join(sender, username, m.ID())
		if announce == nil {
			return nil
		}
		return announce(roster)
	})
}

// RecordLeave removes the entry for sender, if any, and delivers the event
// announce builds. removed is the zero Entry when sender was absent.
func (g *Registry) RecordLeave(roomID string, m Member, sender protocol.SenderID, announce func(removed Entry, roster protocol.Roster) []byte) (Delivery, error) {
	r := g.Room(roomID)
	if r == nil {
		return Delivery{}, ErrUnknownRoom
	}
	return r.update(m, func(p *Presence) []byte {
		removed, _ := p.Leave(sender)
		if announce == nil {
			return nil
		}
		return announce(removed, p.Roster())
	})
}

// AnnounceRelease delivers the departure of an entry released by Leave,
// unless another member has claimed the same sender since
func (g *Registry) AnnounceRelease(roomID string, e Entry, announce func(protocol.Roster) []byte) Delivery {
	r := g.Room(roomID)
	if r == nil {
		return Delivery{}
	}
	d, _ := r.update(nil, func(p *Presence) []byte {
		if _, rejoined := p.Lookup(e.SenderID); rejoined {
			return nil
		}
		return announce(p.Roster())
	})
	return d
}

// DeliverFrom fans a frame from m out to its room
func (g *Registry) DeliverFrom(roomID string, m Member, payload []byte) (Delivery, error) {
	r := g.Room(roomID)
	if r == nil {
		return Delivery{}, ErrUnknownRoom
	}
	return r.DeliverFrom(m, payload)
}

// Roster returns the room's roster snapshot; an inactive room has none
func (g *Registry) Roster(roomID string) protocol.Roster {
	r := g.Room(roomID)
	if r == nil {
		return protocol.Roster{}
	}
	return r.Roster()
}

// Stats returns the number of active rooms and members
func (g *Registry) Stats() (rooms, members int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rooms = len(g.rooms)
	for _, r := range g.rooms {
		members += r.Len()
	}
	return rooms, members
}

// ActiveRooms maps room id to member count
func (g *Registry) ActiveRooms() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int, len(g.rooms))
	for id, r := range g.rooms {
		out[id] = r.Len()
	}
	return out
}
