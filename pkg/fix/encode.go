package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// SeqNum is the outbound MsgSeqNum counter. The zero value hands out 1 first.
type SeqNum struct {
	last atomic.Int64
}

// Next consumes and returns the next sequence number.
func (s *SeqNum) Next() int { return int(s.last.Add(1)) }

// Peek returns the number the next call to Next will hand out.
func (s *SeqNum) Peek() int { return int(s.last.Load()) + 1 }

// Reset rewinds the counter so the next message is sent with MsgSeqNum 1.
func (s *SeqNum) Reset() { s.last.Store(0) }

// Encoder stamps the standard header onto outbound messages.
type Encoder struct {
	SenderCompID string
	TargetCompID string
	Seq          *SeqNum
	Now          func() time.Time
}

// Encode builds a complete frame. The sequence number is consumed exactly once per call,
// whatever happens to the bytes afterwards.
func (e *Encoder) Encode(msgType string, fields ...Field) []byte {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Build(msgType, e.Seq.Next(), now(), e.SenderCompID, e.TargetCompID, fields)
}

// Build assembles header, body and trailer for a single message.
func Build(msgType string, seq int, sendingTime time.Time, sender, target string, fields []Field) []byte {
	var body bytes.Buffer
	writeField(&body, TagMsgType, msgType)
	writeField(&body, TagSenderCompID, sender)
	writeField(&body, TagTargetCompID, target)
	writeField(&body, TagMsgSeqNum, strconv.Itoa(seq))
	writeField(&body, TagSendingTime, sendingTime.UTC().Format(TimeFormat))
	for _, f := range fields {
		writeField(&body, f.Tag, f.Value)
	}

	var out bytes.Buffer
	out.Grow(body.Len() + 32)
	writeField(&out, TagBeginString, BeginString)
	writeField(&out, TagBodyLength, strconv.Itoa(body.Len()))
	out.Write(body.Bytes())
	writeField(&out, TagCheckSum, FormatChecksum(Checksum(out.Bytes())))
	return out.Bytes()
}

// Checksum is the byte sum modulo 256.
func Checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

func FormatChecksum(sum int) string {
	return fmt.Sprintf("%03d", sum)
}

func writeField(buf *bytes.Buffer, tag int, value string) {
	buf.WriteString(strconv.Itoa(tag))
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(SOH)
}
