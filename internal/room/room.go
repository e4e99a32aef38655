package room

import (
	"errors"
	"sync"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
)

var (
	ErrRoomFull    = errors.New("room: member limit reached")
	ErrUnknownRoom = errors.New("room: no active room")
	ErrNotMember   = errors.New("room: not a member")
)

// Member is the registry's view of a connection. Send must not block: it
// either queues the frame or reports failure.
type Member interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Delivery reports the outcome of one fan-out
type Delivery struct {
	Delivered int
	Failed    []Member
}

// A collaborative editing session for one note
type Room struct {
	id       string
	mu       sync.RWMutex
	members  map[string]Member
	presence Presence
}

func newRoom(id string) *Room {
	return &Room{
		id:       id,
		members:  make(map[string]Member),
		presence: Presence{entries: make(map[string]Entry)},
	}
}

func (r *Room) ID() string { return r.id }

// Len returns the current member count
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of the membership
func (r *Room) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

func (r *Room) Roster() protocol.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence.Roster()
}

// Deliver fans payload out to every current member
func (r *Room) Deliver(payload []byte) Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliverLocked(payload)
}

// DeliverFrom is Deliver for a frame sent by m. It fails with ErrNotMember
// once m has left, even if the caller still holds the room.
func (r *Room) DeliverFrom(m Member, payload []byte) (Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.hasLocked(m) {
		return Delivery{}, ErrNotMember
	}
	return r.deliverLocked(payload), nil
}

// update runs fn with exclusive access to the presence map and delivers the
// payload it returns (if any) before the lock is released, so presence
// events reach every member in the order the roster changed. A non-nil m
// must still be a member when the lock is taken.
func (r *Room) update(m Member, fn func(p *Presence) []byte) (Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m != nil && !r.hasLocked(m) {
		return Delivery{}, ErrNotMember
	}
	payload := fn(&r.presence)
	if payload == nil {
		return Delivery{}, nil
	}
	return r.deliverLocked(payload), nil
}

func (r *Room) hasLocked(m Member) bool {
	cur, ok := r.members[m.ID()]
	return ok && cur == m
}

func (r *Room) deliverLocked(payload []byte) Delivery {
	var d Delivery
	for _, m := range r.members {
		if err := m.Send(payload); err != nil {
			d.Failed = append(d.Failed, m)
			continue
		}
		d.Delivered++
	}
	return d
}
