package protocol

import "encoding/json"

// Roster maps the stringified senderId to the display name. It is sent as
// the "current_user" object on join and left events.
type Roster map[string]string

// Event is anything the server fans out or replies with
type Event interface {
	event()
}

type ContentEvent struct {
	Content  string   `json:"content"`
	SenderID SenderID `json:"senderId"`
}

type PresenceEvent struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	SenderID    SenderID `json:"senderId"`
	CurrentUser Roster   `json:"current_user"`
}

// Sent only to the session whose frame was rejected
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (ContentEvent) event()  {}
func (PresenceEvent) event() {}
func (ErrorEvent) event()    {}

func NewContentEvent(m ContentUpdate) ContentEvent {
	return ContentEvent{Content: m.Content, SenderID: m.SenderID}
}

func NewJoinEvent(username string, sender SenderID, roster Roster) PresenceEvent {
	return PresenceEvent{Type: TypeJoin, Username: username, SenderID: sender, CurrentUser: nonNil(roster)}
}

func NewLeaveEvent(username string, sender SenderID, roster Roster) PresenceEvent {
	return PresenceEvent{Type: TypeLeft, Username: username, SenderID: sender, CurrentUser: nonNil(roster)}
}

func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: TypeError, Error: err.Error()}
}

// Encode renders an event as a single UTF-8 JSON text frame
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func nonNil(r Roster) Roster {
	if r == nil {
		return Roster{}
	}
	return r
}
