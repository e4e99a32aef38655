package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
	"github.com/manpreetbhatti/notecollab/backend/internal/room"
)

const (
	publishTimeout = 2 * time.Second
	drainTimeout   = 5 * time.Second
	drainPoll      = 10 * time.Millisecond
)

var (
	ErrUnknownNote = errors.New("ws: unknown note")
	ErrNotMember   = errors.New("ws: session is no longer a room member")
)

// Session is a room member bound to one note for its whole lifetime
type Session interface {
	room.Member
	NoteID() string
}

// NoteLookup answers whether a note id names a stored note
type NoteLookup interface {
	NoteExists(ctx context.Context, id string) (bool, error)
}

type Options struct {
	Logger *slog.Logger

	// Per-room connection cap, 0 for unlimited
	MaxRoomMembers int

	// Reject sockets for note ids the store does not know
	RequireKnownNote bool
	Notes            NoteLookup

	// Optional cross-instance relay for content updates
	Bus Bus

	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageSize    int64

	// Outbound frames queued per session before it counts as a slow consumer
	SendBuffer int
}

// Hub tracks every room on this instance and fans events out to them
type Hub struct {
	registry *room.Registry
	log      *slog.Logger
	notes    NoteLookup
	bus      Bus
	origin   string

	requireKnownNote bool

	messagesPerSecond float64
	messageBurst      int
	maxMessageSize    int64
	sendBuffer        int
	drainTimeout      time.Duration
}

func NewHub(opts Options) *Hub {
	h := &Hub{
		registry:          room.NewRegistry(opts.MaxRoomMembers),
		log:               opts.Logger,
		notes:             opts.Notes,
		bus:               opts.Bus,
		origin:            uuid.NewString(),
		requireKnownNote:  opts.RequireKnownNote,
		messagesPerSecond: opts.MessagesPerSecond,
		messageBurst:      opts.MessageBurst,
		maxMessageSize:    opts.MaxMessageSize,
		sendBuffer:        opts.SendBuffer,
		drainTimeout:      drainTimeout,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.messagesPerSecond <= 0 {
		h.messagesPerSecond = messagesPerSecond
	}
	if h.messageBurst <= 0 {
		h.messageBurst = messageBurst
	}
	if h.maxMessageSize <= 0 {
		h.maxMessageSize = maxMessageSize
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = sendBuffer
	}
	return h
}

// Run relays bus traffic into local rooms until ctx is cancelled, then
// closes every open session. It returns once the sessions have unregistered
// or the drain timeout passes.
func (h *Hub) Run(ctx context.Context) {
	if h.bus != nil {
		go h.bus.Subscribe(ctx, h.relay)
	}
	<-ctx.Done()
	h.closeAll()
	h.drain()
}

func (h *Hub) Registry() *room.Registry { return h.registry }

// Admit checks whether a socket may be opened for noteID
func (h *Hub) Admit(ctx context.Context, noteID string) error {
	if !h.requireKnownNote || h.notes == nil {
		return nil
	}
	ok, err := h.notes.NoteExists(ctx, noteID)
	if err != nil {
		return fmt.Errorf("note lookup %s: %w", noteID, err)
	}
	if !ok {
		return ErrUnknownNote
	}
	return nil
}

// Register adds the session to its note's room
func (h *Hub) Register(s Session) error {
	r, err := h.registry.Join(s.NoteID(), s)
	if err != nil {
		return err
	}
	incConnections()
	rooms, _ := h.registry.Stats()
	setRooms(rooms)
	h.log.Info("client joined room", "room", s.NoteID(), "client_id", s.ID(), "clients", r.Len())
	return nil
}

// Unregister removes the session from its room and announces a departure
// for every roster entry it still owned
func (h *Hub) Unregister(s Session) {
	h.remove(s.NoteID(), s)
}

func (h *Hub) remove(noteID string, m room.Member) {
	released, ok := h.registry.Leave(noteID, m)
	if !ok {
		return
	}
	decConnections()
	rooms, _ := h.registry.Stats()
	setRooms(rooms)

	if h.registry.Room(noteID) == nil {
		h.log.Info("room closed (empty)", "room", noteID, "client_id", m.ID())
		return
	}
	h.log.Info("client left room", "room", noteID, "client_id", m.ID())

	for _, e := range released {
		h.announceDeparture(noteID, e)
	}
}

// announceDeparture sends a left event for an entry dropped on disconnect,
// unless another session has claimed the same sender in the meantime
func (h *Hub) announceDeparture(noteID string, e room.Entry) {
	d := h.registry.AnnounceRelease(noteID, e, func(roster protocol.Roster) []byte {
		return h.encode(protocol.NewLeaveEvent(e.Username, e.SenderID, roster))
	})
	h.settle(noteID, d)
}

// Broadcast delivers ev to every member of the room, sender included
func (h *Hub) Broadcast(noteID string, ev protocol.Event) room.Delivery {
	payload := h.encode(ev)
	if payload == nil {
		return room.Delivery{}
	}
	return h.deliver(noteID, payload)
}

func (h *Hub) deliver(noteID string, payload []byte) room.Delivery {
	rm := h.registry.Room(noteID)
	if rm == nil {
		return room.Delivery{}
	}
	d := rm.Deliver(payload)
	h.settle(noteID, d)
	return d
}

// settle records metrics and schedules removal of failed recipients
func (h *Hub) settle(noteID string, d room.Delivery) {
	if d.Delivered > 0 {
		addDelivered(d.Delivered)
	}
	if len(d.Failed) == 0 {
		return
	}
	addFailures(len(d.Failed))
	for _, m := range d.Failed {
		h.log.Warn("dropping unresponsive client", "room", noteID, "client_id", m.ID())
		go func(m room.Member) {
			h.remove(noteID, m)
			_ = m.Close()
		}(m)
	}
}

func (h *Hub) publish(noteID string, payload []byte) {
	if h.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, BusMessage{Origin: h.origin, NoteID: noteID, Payload: payload}); err != nil {
		h.log.Warn("bus publish failed", "room", noteID, "err", err)
	}
}

func (h *Hub) relay(m BusMessage) {
	if m.Origin == h.origin {
		return
	}
	h.deliver(m.NoteID, m.Payload)
}

func (h *Hub) encode(ev protocol.Event) []byte {
	payload, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error("encode event", "err", err)
		return nil
	}
	return payload
}

func (h *Hub) drain() {
	deadline := time.Now().Add(h.drainTimeout)
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for h.GetClientCount() > 0 {
		if time.Now().After(deadline) {
			h.log.Warn("shutdown with sessions still open", "clients", h.GetClientCount())
			return
		}
		<-ticker.C
	}
}

func (h *Hub) closeAll() {
	for id := range h.registry.ActiveRooms() {
		for _, m := range h.registry.Members(id) {
			_ = m.Close()
		}
	}
}

func (h *Hub) GetRoomCount() int {
	rooms, _ := h.registry.Stats()
	return rooms
}

func (h *Hub) GetClientCount() int {
	_, clients := h.registry.Stats()
	return clients
}

// GetActiveRooms maps note id to connected client count
func (h *Hub) GetActiveRooms() map[string]int {
	return h.registry.ActiveRooms()
}

// GetRoster returns the live roster for a note
func (h *Hub) GetRoster(noteID string) protocol.Roster {
	return h.registry.Roster(noteID)
}
