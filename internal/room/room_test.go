package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
)

type mockMember struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func (m *mockMember) ID() string { return m.id }

func (m *mockMember) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockMember) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockMember) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "a"}

	r1, err := g.Join("note-1", m)
	require.NoError(t, err)
	r2, err := g.Join("note-1", m)
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.Equal(t, 1, r1.Len())
}

func TestRegistry_LeaveEvictsEmptyRoom(t *testing.T) {
	g := NewRegistry(0)
	a := &mockMember{id: "a"}
	b := &mockMember{id: "b"}
	_, _ = g.Join("note-1", a)
	_, _ = g.Join("note-1", b)

	_, ok := g.Leave("note-1", a)
	assert.True(t, ok)
	assert.NotNil(t, g.Room("note-1"))

	_, ok = g.Leave("note-1", b)
	assert.True(t, ok)
	assert.Nil(t, g.Room("note-1"))

	_, ok = g.Leave("note-1", b)
	assert.False(t, ok, "second leave should be a no-op")

	rooms, members := g.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, members)
}

func TestRegistry_LeaveIgnoresStaleMemberWithSameID(t *testing.T) {
	g := NewRegistry(0)
	old := &mockMember{id: "a"}
	_, _ = g.Join("note-1", old)
	_, _ = g.Leave("note-1", old)

	fresh := &mockMember{id: "a"}
	_, _ = g.Join("note-1", fresh)

	_, ok := g.Leave("note-1", old)
	assert.False(t, ok)
	assert.True(t, g.IsMember("note-1", fresh))
}

func TestRegistry_MaxMembers(t *testing.T) {
	g := NewRegistry(2)
	_, err := g.Join("note-1", &mockMember{id: "a"})
	require.NoError(t, err)
	_, err = g.Join("note-1", &mockMember{id: "b"})
	require.NoError(t, err)

	_, err = g.Join("note-1", &mockMember{id: "c"})
	assert.True(t, errors.Is(err, ErrRoomFull))

	_, err = g.Join("note-2", &mockMember{id: "c"})
	assert.NoError(t, err, "limit is per room")
}

func TestRoom_DeliverIncludesEveryMember(t *testing.T) {
	g := NewRegistry(0)
	members := []*mockMember{{id: "s1"}, {id: "s2"}, {id: "s3"}}
	other := &mockMember{id: "elsewhere"}
	for _, m := range members {
		_, _ = g.Join("R", m)
	}
	_, _ = g.Join("B", other)

	d := g.Room("R").Deliver([]byte("hello"))

	assert.Equal(t, 3, d.Delivered)
	assert.Empty(t, d.Failed)
	for _, m := range members {
		assert.Len(t, m.getReceived(), 1, "member %s", m.id)
	}
	assert.Empty(t, other.getReceived())
}

func TestRoom_DeliverIsolatesFailures(t *testing.T) {
	g := NewRegistry(0)
	ok1 := &mockMember{id: "ok1"}
	bad := &mockMember{id: "bad", sendErr: errors.New("queue full")}
	ok2 := &mockMember{id: "ok2"}
	for _, m := range []*mockMember{ok1, bad, ok2} {
		_, _ = g.Join("R", m)
	}

	d := g.Room("R").Deliver([]byte("x"))

	assert.Equal(t, 2, d.Delivered)
	require.Len(t, d.Failed, 1)
	assert.Equal(t, "bad", d.Failed[0].ID())
	assert.Len(t, ok1.getReceived(), 1)
	assert.Len(t, ok2.getReceived(), 1)
}

// sender decodes a raw JSON senderId the way an inbound frame would
func sender(t *testing.T, raw string) protocol.SenderID {
	t.Helper()
	var s protocol.SenderID
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func rosterOf(roster *protocol.Roster) func(protocol.Roster) []byte {
	return func(r protocol.Roster) []byte {
		*roster = r
		return []byte("presence")
	}
}

func TestPresence_RosterCorrectness(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "s1"}
	_, _ = g.Join("R", m)

	var roster protocol.Roster
	_, err := g.RecordJoin("R", m, sender(t, "42"), "ada", rosterOf(&roster))
	require.NoError(t, err)
	d, err := g.RecordJoin("R", m, sender(t, "7"), "grace", rosterOf(&roster))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, protocol.Roster{"42": "ada", "7": "grace"}, roster)

	var removed Entry
	leave := func(e Entry, r protocol.Roster) []byte {
		removed, roster = e, r
		return []byte("presence")
	}
	_, err = g.RecordLeave("R", m, sender(t, "42"), leave)
	require.NoError(t, err)
	assert.Equal(t, "ada", removed.Username)
	assert.Equal(t, protocol.Roster{"7": "grace"}, roster)

	// Absent sender: roster unchanged, still announced
	_, err = g.RecordLeave("R", m, sender(t, "42"), leave)
	require.NoError(t, err)
	assert.Equal(t, Entry{}, removed)
	assert.Equal(t, protocol.Roster{"7": "grace"}, roster)
	assert.Len(t, m.getReceived(), 4)
}

func TestPresence_JoinOverwrites(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "s1"}
	_, _ = g.Join("R", m)

	_, _ = g.RecordJoin("R", m, protocol.StringSender("u"), "old name", nil)
	_, _ = g.RecordJoin("R", m, protocol.StringSender("u"), "new name", nil)

	assert.Equal(t, protocol.Roster{"u": "new name"}, g.Roster("R"))
	assert.Empty(t, m.getReceived(), "nil announce delivers nothing")
}

func TestPresence_UnknownRoom(t *testing.T) {
	g := NewRegistry(0)
	_, err := g.RecordJoin("ghost", &mockMember{id: "s1"}, sender(t, "1"), "x", nil)
	assert.ErrorIs(t, err, ErrUnknownRoom)
	_, err = g.DeliverFrom("ghost", &mockMember{id: "s1"}, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownRoom)
	assert.Empty(t, g.Roster("ghost"))
}

func TestPresence_CrossRoomIsolation(t *testing.T) {
	g := NewRegistry(0)
	a, b := &mockMember{id: "s1"}, &mockMember{id: "s2"}
	_, _ = g.Join("A", a)
	_, _ = g.Join("B", b)

	_, _ = g.RecordJoin("A", a, sender(t, "42"), "ada", nil)
	_, _ = g.RecordJoin("B", b, sender(t, "42"), "ada-in-b", nil)
	_, _ = g.RecordJoin("A", a, sender(t, "3"), "only-a", nil)

	assert.Equal(t, protocol.Roster{"42": "ada", "3": "only-a"}, g.Roster("A"))
	assert.Equal(t, protocol.Roster{"42": "ada-in-b"}, g.Roster("B"))
}

func TestPresence_ConcurrentJoins(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "s1"}
	_, _ = g.Join("R", m)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.RecordJoin("R", m, sender(t, fmt.Sprint(i)), fmt.Sprintf("user-%d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	roster := g.Roster("R")
	assert.Len(t, roster, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprintf("user-%d", i), roster[fmt.Sprint(i)])
	}
}

func TestRegistry_LeaveReleasesOwnedPresence(t *testing.T) {
	g := NewRegistry(0)
	a := &mockMember{id: "a"}
	b := &mockMember{id: "b"}
	_, _ = g.Join("R", a)
	_, _ = g.Join("R", b)

	_, _ = g.RecordJoin("R", a, sender(t, "1"), "alice", nil)
	_, _ = g.RecordJoin("R", b, sender(t, "2"), "bob", nil)
	// b reclaims sender 1, so a no longer owns it
	_, _ = g.RecordJoin("R", b, sender(t, "1"), "alice-on-b", nil)
	_, _ = g.RecordJoin("R", a, sender(t, "3"), "carol", nil)

	released, ok := g.Leave("R", a)
	require.True(t, ok)
	require.Len(t, released, 1)
	assert.Equal(t, "carol", released[0].Username)
	assert.Equal(t, protocol.Roster{"1": "alice-on-b", "2": "bob"}, g.Roster("R"))
}

func TestRegistry_DepartedMemberLeavesNoEntry(t *testing.T) {
	g := NewRegistry(0)
	keeper := &mockMember{id: "keeper"}
	gone := &mockMember{id: "gone"}
	_, _ = g.Join("R", keeper)
	_, _ = g.Join("R", gone)
	_, _ = g.Leave("R", gone)

	_, err := g.RecordJoin("R", gone, sender(t, "9"), "ghost", rosterOf(new(protocol.Roster)))
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = g.RecordLeave("R", gone, sender(t, "9"), nil)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = g.DeliverFrom("R", gone, []byte("x"))
	assert.ErrorIs(t, err, ErrNotMember)

	assert.Empty(t, g.Roster("R"))
	assert.Empty(t, keeper.getReceived())
}

func TestRoom_StaleRoomRejectsEvictedMember(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "s1"}
	r, _ := g.Join("R", m)
	_, _ = g.Leave("R", m)
	require.Nil(t, g.Room("R"))

	// r is the evicted room a caller could still be holding
	_, err := r.DeliverFrom(m, []byte("x"))
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = r.update(m, func(p *Presence) []byte {
		p.Join(sender(t, "1"), "ada", m.ID())
		return []byte("x")
	})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, r.Roster())
}

func TestRoom_UpdateDeliversUnderLock(t *testing.T) {
	g := NewRegistry(0)
	m := &mockMember{id: "s1"}
	r, _ := g.Join("R", m)

	d, err := r.update(m, func(p *Presence) []byte {
		p.Join(sender(t, "1"), "ada", "s1")
		return []byte("announce")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Delivered)

	d, err = r.update(nil, func(p *Presence) []byte { return nil })
	require.NoError(t, err)
	assert.Zero(t, d.Delivered)
	assert.Len(t, m.getReceived(), 1)
}

func TestRegistry_AnnounceReleaseSkipsRejoined(t *testing.T) {
	g := NewRegistry(0)
	a, b := &mockMember{id: "a"}, &mockMember{id: "b"}
	_, _ = g.Join("R", a)
	_, _ = g.Join("R", b)
	_, _ = g.RecordJoin("R", a, sender(t, "1"), "ada", nil)
	_, _ = g.RecordJoin("R", a, sender(t, "2"), "bob", nil)

	released, _ := g.Leave("R", a)
	require.Len(t, released, 2)
	_, _ = g.RecordJoin("R", b, sender(t, "1"), "ada", nil)

	announced := 0
	for _, e := range released {
		g.AnnounceRelease("R", e, func(protocol.Roster) []byte {
			announced++
			return []byte("left")
		})
	}
	assert.Equal(t, 1, announced, "only the unclaimed sender is announced")
	assert.Len(t, b.getReceived(), 1)
}

// Joins racing a disconnect never leave entries owned by a departed member
func TestRegistry_JoinRacingLeave(t *testing.T) {
	g := NewRegistry(0)
	keeper := &mockMember{id: "keeper"}
	_, _ = g.Join("R", keeper)

	for i := 0; i < 50; i++ {
		m := &mockMember{id: fmt.Sprintf("m%d", i)}
		_, _ = g.Join("R", m)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = g.RecordJoin("R", m, sender(t, fmt.Sprint(i)), m.id, nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = g.Leave("R", m)
		}()
		wg.Wait()
	}

	r := g.Room("R")
	require.NotNil(t, r)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.presence.entries {
		_, ok := r.members[e.Owner]
		assert.True(t, ok, "entry %s owned by departed %s", e.SenderID, e.Owner)
	}
}

func TestRegistry_ActiveRooms(t *testing.T) {
	g := NewRegistry(0)
	_, _ = g.Join("r1", &mockMember{id: "c1"})
	_, _ = g.Join("r1", &mockMember{id: "c2"})
	_, _ = g.Join("r2", &mockMember{id: "c3"})

	assert.Equal(t, map[string]int{"r1": 2, "r2": 1}, g.ActiveRooms())
	rooms, members := g.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 3, members)
	assert.Len(t, g.Members("r1"), 2)
	assert.Nil(t, g.Members("nope"))
}
