package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// SenderID is the identity a client claims for itself. Clients send either a
// JSON string or a JSON number; the form it arrived in is echoed back so a client
// comparing with === still recognises its own events.
type SenderID struct {
	key string
	raw json.RawMessage
}

// StringSender builds a string-typed SenderID
func StringSender(s string) SenderID {
	raw, _ := json.Marshal(s)
	return SenderID{key: s, raw: raw}
}

// numberKey spells equal numbers the same way, so 42, 42.0 and 4.2e1 name
// one roster entry
func numberKey(n json.Number) (string, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", errors.New("senderId: number out of range")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

// Key is the stringified identity used for roster keys
func (s SenderID) Key() string { return s.key }

func (s SenderID) IsZero() bool { return s.key == "" }

func (s SenderID) String() string { return s.key }

func (s SenderID) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s *SenderID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return errors.New("senderId: empty value")
	}

	switch c := b[0]; {
	case c == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = StringSender(v)
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		key, err := numberKey(n)
		if err != nil {
			return err
		}
		s.key = key
		s.raw = append(json.RawMessage(nil), b...)
		return nil
	case c == 'n':
		*s = SenderID{}
		return nil
	default:
		return errors.New("senderId: must be a string or a number")
	}
}
