package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotObject   = errors.New("signaling: message is not a JSON object")
	ErrMissingType = errors.New("signaling: message has no integer type")
)

// Envelope is a parsed inbound message. Members other than the type and
// the two session ids stay raw until a handler asks for them.
type Envelope struct {
	Type     MessageType
	OwnID    string
	ViewerID string
	members  map[string]json.RawMessage
}

// Parse validates that data is a JSON object with an integer "type"
// member.
func Parse(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	raw, ok := members["type"]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMissingType
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, ErrMissingType
	}
	env := &Envelope{Type: MessageType(code), members: members}
	env.OwnID, _ = env.String(OwnIDKey)
	env.ViewerID, _ = env.String(ViewerIDKey)
	return env, nil
}

func (e *Envelope) Has(key string) bool {
	_, ok := e.members[key]
	return ok
}

// String returns a string member. Missing members, null and non-string
// values report false.
func (e *Envelope) String(key string) (string, bool) {
	raw, ok := e.members[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (e *Envelope) Raw(key string) json.RawMessage {
	return e.members[key]
}

// Decode unmarshals a member into v.
func (e *Envelope) Decode(key string, v interface{}) error {
	raw, ok := e.members[key]
	if !ok {
		return fmt.Errorf("signaling: missing %q", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("signaling: bad %q: %w", key, err)
	}
	return nil
}

// Members exposes every raw member, for payloads that live at the top
// level of the envelope.
func (e *Envelope) Members() map[string]json.RawMessage {
	return e.members
}

// Outbound is a message to the signaling server. Members are written in
// the order type, ws1Id, ws2Id, then payload members in the order they
// were set.
type Outbound struct {
	Type     MessageType
	OwnID    string
	ViewerID string
	keys     []string
	values   []interface{}
}

func NewOutbound(t MessageType, ownID, viewerID string) *Outbound {
	return &Outbound{Type: t, OwnID: ownID, ViewerID: viewerID}
}

// Set adds or replaces a payload member.
func (o *Outbound) Set(key string, v interface{}) *Outbound {
	for i, k := range o.keys {
		if k == key {
			o.values[i] = v
			return o
		}
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, v)
	return o
}

func (o *Outbound) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.WriteString(fmt.Sprint(int(o.Type)))
	writeMember(&buf, OwnIDKey, idValue(o.OwnID))
	writeMember(&buf, ViewerIDKey, idValue(o.ViewerID))
	for i, key := range o.keys {
		if key == "type" || key == OwnIDKey || key == ViewerIDKey {
			continue
		}
		value, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, fmt.Errorf("signaling: encode %q: %w", key, err)
		}
		writeMember(&buf, key, value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func idValue(id string) []byte {
	if id == "" {
		return []byte("null")
	}
	b, _ := json.Marshal(id)
	return b
}

func writeMember(buf *bytes.Buffer, key string, value []byte) {
	k, _ := json.Marshal(key)
	buf.WriteByte(',')
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(value)
}
