package room

import "github.com/manpreetbhatti/notecollab/backend/internal/protocol"

// Entry is one advertised participant. Owner is the id of the member whose
// join last wrote the entry.
type Entry struct {
	SenderID protocol.SenderID
	Username string
	Owner    string
}

// Presence is the per-room roster. It is only reachable through Room.Update
// and the registry accessors, which hold the room lock.
type Presence struct {
	entries map[string]Entry
}

// Join inserts or overwrites the entry for sender and returns the roster
func (p *Presence) Join(sender protocol.SenderID, username, owner string) protocol.Roster {
	p.entries[sender.Key()] = Entry{SenderID: sender, Username: username, Owner: owner}
	return p.Roster()
}

// Leave removes the entry for sender. A missing entry is not an error.
func (p *Presence) Leave(sender protocol.SenderID) (Entry, bool) {
	e, ok := p.entries[sender.Key()]
	if ok {
		delete(p.entries, sender.Key())
	}
	return e, ok
}

// Lookup returns the entry for sender, if any
func (p *Presence) Lookup(sender protocol.SenderID) (Entry, bool) {
	e, ok := p.entries[sender.Key()]
	return e, ok
}

func (p *Presence) Len() int { return len(p.entries) }

// Roster returns a copy safe to encode after the lock is released
func (p *Presence) Roster() protocol.Roster {
	out := make(protocol.Roster, len(p.entries))
	for k, e := range p.entries {
		out[k] = e.Username
	}
	return out
}

// release drops every entry owned by the given member
func (p *Presence) release(owner string) []Entry {
	var out []Entry
	for k, e := range p.entries {
		if e.Owner == owner {
			out = append(out, e)
			delete(p.entries, k)
		}
	}
	return out
}
