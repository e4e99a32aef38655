package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Discriminator values carried in the "type" field
const (
	TypeJoin  = "join"
	TypeLeft  = "left"
	TypeError = "error"
)

// Returned (wrapped) for every frame that cannot be turned into a Message
var ErrMalformed = errors.New("malformed message")

// Message is one decoded inbound frame: ContentUpdate, Join or Leave.
type Message interface {
	Sender() SenderID
}

// Relays the editor body verbatim
type ContentUpdate struct {
	Content  string
	SenderID SenderID
}

type Join struct {
	SenderID SenderID
	Username string
}

// Username is optional; the roster entry supplies it when absent
type Leave struct {
	SenderID SenderID
	Username string
}

func (m ContentUpdate) Sender() SenderID { return m.SenderID }
func (m Join) Sender() SenderID          { return m.SenderID }
func (m Leave) Sender() SenderID         { return m.SenderID }

type frame struct {
	Type     *string   `json:"type"`
	Content  *string   `json:"content"`
	SenderID *SenderID `json:"senderId"`
	Username *string   `json:"username"`
}

// Decode parses one inbound frame. Anything that is not a JSON object with
// the fields its variant requires fails with ErrMalformed.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.SenderID == nil || f.SenderID.IsZero() {
		return nil, fmt.Errorf("%w: senderId is required", ErrMalformed)
	}

	var kind string
	if f.Type != nil {
		kind = *f.Type
	}

	switch kind {
	case TypeJoin:
		if f.Username == nil || *f.Username == "" {
			return nil, fmt.Errorf("%w: join requires username", ErrMalformed)
		}
		return Join{SenderID: *f.SenderID, Username: *f.Username}, nil
	case TypeLeft:
		m := Leave{SenderID: *f.SenderID}
		if f.Username != nil {
			m.Username = *f.Username
		}
		return m, nil
	default:
		// Unknown or missing type is a content update
		if f.Content == nil {
			return nil, fmt.Errorf("%w: content is required", ErrMalformed)
		}
		return ContentUpdate{Content: *f.Content, SenderID: *f.SenderID}, nil
	}
}
