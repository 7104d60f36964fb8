package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrIncomplete       = errors.New("fix: incomplete frame")
	ErrMalformed        = errors.New("fix: malformed frame")
	ErrBodyLength       = errors.New("fix: body length mismatch")
	ErrChecksumMismatch = errors.New("fix: checksum mismatch")
	ErrOverflow         = errors.New("fix: frame buffer overflow")
)

var (
	beginMarker    = []byte("8=FIX")
	checksumMarker = []byte{SOH, '1', '0', '='}
)

// DefaultMaxBuffered bounds how many unframed bytes a Framer holds before giving up.
const DefaultMaxBuffered = 1 << 20

// ExtractFrame cuts the first complete frame out of buf.
//
// A frame starts at "8=FIX" located at the start of buf or right after an SOH, and ends
// at the SOH terminating the value of the first SOH-prefixed "10=" field. Bytes before
// the begin marker are discarded. On ErrIncomplete, rest is what the caller must keep.
func ExtractFrame(buf []byte) (frame, rest []byte, err error) {
	start := findBegin(buf)
	if start < 0 {
		// Only the bytes after the last SOH can still turn into a begin marker.
		if i := bytes.LastIndexByte(buf, SOH); i >= 0 {
			return nil, buf[i+1:], ErrIncomplete
		}
		return nil, buf, ErrIncomplete
	}
	buf = buf[start:]

	idx := bytes.Index(buf[len(beginMarker):], checksumMarker)
	if idx < 0 {
		return nil, buf, ErrIncomplete
	}
	valueStart := len(beginMarker) + idx + len(checksumMarker)

	end := bytes.IndexByte(buf[valueStart:], SOH)
	if end < 0 {
		return nil, buf, ErrIncomplete
	}
	end += valueStart + 1

	return buf[:end], buf[end:], nil
}

func findBegin(buf []byte) int {
	for from := 0; from < len(buf); {
		i := bytes.Index(buf[from:], beginMarker)
		if i < 0 {
			return -1
		}
		i += from
		if i == 0 || buf[i-1] == SOH {
			return i
		}
		from = i + 1
	}
	return -1
}

// Verify checks the structural header, body length and checksum of a frame produced by
// ExtractFrame.
func Verify(frame []byte) error {
	if !bytes.HasPrefix(frame, beginMarker) {
		return fmt.Errorf("%w: missing begin string", ErrMalformed)
	}

	first := bytes.IndexByte(frame, SOH)
	if first < 0 || !bytes.HasPrefix(frame[first+1:], []byte("9=")) {
		return fmt.Errorf("%w: body length must be the second field", ErrMalformed)
	}
	lenStart := first + 1 + len("9=")
	lenEnd := bytes.IndexByte(frame[lenStart:], SOH)
	if lenEnd < 0 {
		return fmt.Errorf("%w: unterminated body length", ErrMalformed)
	}
	bodyLen, err := strconv.Atoi(string(frame[lenStart : lenStart+lenEnd]))
	if err != nil || bodyLen < 0 {
		return fmt.Errorf("%w: body length %q", ErrMalformed, frame[lenStart:lenStart+lenEnd])
	}
	bodyStart := lenStart + lenEnd + 1

	cs := bytes.LastIndex(frame, checksumMarker)
	if cs < 0 || frame[len(frame)-1] != SOH {
		return fmt.Errorf("%w: missing checksum", ErrMalformed)
	}
	cs++ // position of "10="

	if got := cs - bodyStart; got != bodyLen {
		return fmt.Errorf("%w: declared %d, actual %d", ErrBodyLength, bodyLen, got)
	}

	declared, err := strconv.Atoi(string(frame[cs+len("10=") : len(frame)-1]))
	if err != nil {
		return fmt.Errorf("%w: checksum value", ErrMalformed)
	}
	if actual := Checksum(frame[:cs]); declared != actual {
		return fmt.Errorf("%w: declared %03d, actual %03d", ErrChecksumMismatch, declared, actual)
	}
	return nil
}

// Framer accumulates stream bytes and yields whole frames in arrival order.
type Framer struct {
	buf []byte
	max int
}

func NewFramer(maxBuffered int) *Framer {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &Framer{max: maxBuffered}
}

// Write appends p. If the accumulator outgrows its bound it is emptied and ErrOverflow
// is returned; the stream resynchronises on the next begin marker.
func (f *Framer) Write(p []byte) error {
	f.buf = append(f.buf, p...)
	if len(f.buf) > f.max {
		f.buf = nil
		return ErrOverflow
	}
	return nil
}

// Next returns the next complete frame, or ErrIncomplete when more bytes are needed.
func (f *Framer) Next() ([]byte, error) {
	frame, rest, err := ExtractFrame(f.buf)
	f.buf = rest
	if err != nil {
		return nil, err
	}
	return bytes.Clone(frame), nil
}

// Buffered reports how many bytes are waiting for a frame boundary.
func (f *Framer) Buffered() int { return len(f.buf) }
