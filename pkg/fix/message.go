package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Field is a single tag=value pair.
type Field struct {
	Tag   int
	Value string
}

// F is shorthand for building a Field.
func F(tag int, value string) Field {
	return Field{Tag: tag, Value: value}
}

// Message keeps fields in wire order. Repeating groups must be read through Fields;
// Get only returns the last occurrence of a tag.
type Message struct {
	Fields []Field
}

// Get returns the value of the last field carrying tag, or "" if absent.
func (m *Message) Get(tag int) string {
	v, _ := m.Lookup(tag)
	return v
}

// Lookup is Get with a presence flag.
func (m *Message) Lookup(tag int) (string, bool) {
	for i := len(m.Fields) - 1; i >= 0; i-- {
		if m.Fields[i].Tag == tag {
			return m.Fields[i].Value, true
		}
	}
	return "", false
}

func (m *Message) MsgType() string { return m.Get(TagMsgType) }

// SeqNum returns MsgSeqNum, or 0 if missing or not numeric.
func (m *Message) SeqNum() int {
	n, err := strconv.Atoi(m.Get(TagMsgSeqNum))
	if err != nil {
		return 0
	}
	return n
}

// Map flattens the message; duplicate tags resolve to the last value.
func (m *Message) Map() map[int]string {
	out := make(map[int]string, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Tag] = f.Value
	}
	return out
}

// Body returns the fields after the standard header and before the trailer.
func (m *Message) Body() []Field {
	body := make([]Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		switch f.Tag {
		case TagBeginString, TagBodyLength, TagMsgType, TagSenderCompID, TagTargetCompID,
			TagMsgSeqNum, TagSendingTime, TagCheckSum:
			continue
		}
		body = append(body, f)
	}
	return body
}

// String renders the message with '|' in place of SOH for logging.
func (m *Message) String() string {
	var b strings.Builder
	for _, f := range m.Fields {
		b.WriteString(strconv.Itoa(f.Tag))
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte('|')
	}
	return b.String()
}

// Parse splits a frame into ordered fields. A trailing field without SOH is accepted.
func Parse(frame []byte) (*Message, error) {
	msg := &Message{Fields: make([]Field, 0, bytes.Count(frame, []byte{SOH})+1)}

	for start := 0; start < len(frame); {
		end := bytes.IndexByte(frame[start:], SOH)
		if end == -1 {
			end = len(frame)
		} else {
			end += start
		}

		raw := frame[start:end]
		start = end + 1
		if len(raw) == 0 {
			continue
		}

		eq := bytes.IndexByte(raw, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: field %q has no tag", ErrMalformed, raw)
		}
		tag, err := strconv.Atoi(string(raw[:eq]))
		if err != nil || tag <= 0 {
			return nil, fmt.Errorf("%w: bad tag %q", ErrMalformed, raw[:eq])
		}
		msg.Fields = append(msg.Fields, Field{Tag: tag, Value: string(raw[eq+1:])})
	}

	if len(msg.Fields) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	return msg, nil
}

// Decode returns a flat tag→value view of frame (last write wins).
func Decode(frame []byte) (map[int]string, error) {
	msg, err := Parse(frame)
	if err != nil {
		return nil, err
	}
	return msg.Map(), nil
}
