package ws

import (
	"errors"

	"github.com/manpreetbhatti/notecollab/backend/internal/protocol"
	"github.com/manpreetbhatti/notecollab/backend/internal/room"
)

// Router classifies inbound frames and forwards the resulting event. It
// performs no deduplication or authorization.
type Router struct {
	hub *Hub
}

func NewRouter(hub *Hub) *Router {
	return &Router{hub: hub}
}

// Route handles one raw frame from s. Decode failures are returned wrapped
// in protocol.ErrMalformed and leave all state untouched. ErrNotMember means
// s was removed from its room and the session should end.
func (rt *Router) Route(s Session, raw []byte) error {
	msg, err := protocol.Decode(raw)
	if err != nil {
		countMalformed()
		return err
	}

	noteID := s.NoteID()
	reg := rt.hub.registry
	rt.hub.log.Debug("routing frame", "room", noteID, "client_id", s.ID(), "sender_id", msg.Sender().String())

	var d room.Delivery
	switch m := msg.(type) {
	case protocol.Join:
		countInbound(protocol.TypeJoin)
		d, err = reg.RecordJoin(noteID, s, m.SenderID, m.Username, func(roster protocol.Roster) []byte {
			return rt.hub.encode(protocol.NewJoinEvent(m.Username, m.SenderID, roster))
		})

	case protocol.Leave:
		countInbound(protocol.TypeLeft)
		d, err = reg.RecordLeave(noteID, s, m.SenderID, func(removed room.Entry, roster protocol.Roster) []byte {
			username := m.Username
			if username == "" {
				username = removed.Username
			}
			return rt.hub.encode(protocol.NewLeaveEvent(username, m.SenderID, roster))
		})

	case protocol.ContentUpdate:
		countInbound("content")
		payload := rt.hub.encode(protocol.NewContentEvent(m))
		if payload == nil {
			return nil
		}
		d, err = reg.DeliverFrom(noteID, s, payload)
		if err == nil {
			rt.hub.publish(noteID, payload)
		}
	}

	if errors.Is(err, room.ErrNotMember) || errors.Is(err, room.ErrUnknownRoom) {
		return ErrNotMember
	}
	rt.hub.settle(noteID, d)
	return err
}
