package fix_test

import (
	"bytes"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

func newEncoder() *fix.Encoder {
	return &fix.Encoder{SenderCompID: "CLIENT", TargetCompID: "GATEWAY", Seq: &fix.SeqNum{}, Now: fixedNow}
}

// pipe renders a '|'-separated message as wire bytes.
func pipe(s string) []byte {
	return []byte(strings.ReplaceAll(s, "|", "\x01"))
}

func TestEncode_RoundTrip(t *testing.T) {
	enc := newEncoder()
	body := []fix.Field{
		fix.F(fix.TagMDReqID, "req-1"),
		fix.F(fix.TagNoMDEntryTypes, "2"),
		fix.F(fix.TagMDEntryType, "0"),
		fix.F(fix.TagMDEntryType, "1"),
		fix.F(fix.TagSymbol, "EURUSD"),
	}

	raw := enc.Encode(fix.MsgTypeMarketDataRequest, body...)
	require.NoError(t, fix.Verify(raw))

	msg, err := fix.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, body, msg.Body())
	assert.Equal(t, fix.MsgTypeMarketDataRequest, msg.MsgType())
	assert.Equal(t, "FIX.4.3", msg.Get(fix.TagBeginString))
	assert.Equal(t, "CLIENT", msg.Get(fix.TagSenderCompID))
	assert.Equal(t, "GATEWAY", msg.Get(fix.TagTargetCompID))
	assert.Equal(t, "20240301-12:30:00.000", msg.Get(fix.TagSendingTime))
	assert.Equal(t, 1, msg.SeqNum())

	cs := bytes.LastIndex(raw, []byte("\x0110=")) + 1
	want := 0
	for _, b := range raw[:cs] {
		want += int(b)
	}
	assert.Equal(t, fix.FormatChecksum(want%256), msg.Get(fix.TagCheckSum))
	assert.Len(t, msg.Get(fix.TagCheckSum), 3)

	bodyLen, err := strconv.Atoi(msg.Get(fix.TagBodyLength))
	require.NoError(t, err)
	bodyStart := bytes.Index(raw, []byte("\x0135=")) + 1
	assert.Equal(t, cs-bodyStart, bodyLen)
}

func TestEncode_SequenceStrictlyIncreasing(t *testing.T) {
	enc := newEncoder()
	for want := 1; want <= 50; want++ {
		msg, err := fix.Parse(enc.Encode(fix.MsgTypeHeartbeat))
		require.NoError(t, err)
		require.Equal(t, want, msg.SeqNum())
	}
	assert.Equal(t, 51, enc.Seq.Peek())

	enc.Seq.Reset()
	msg, err := fix.Parse(enc.Encode(fix.MsgTypeLogon))
	require.NoError(t, err)
	assert.Equal(t, 1, msg.SeqNum())
}

func TestDecode_LastWriteWins(t *testing.T) {
	m, err := fix.Decode(pipe("35=W|55=XAUUSD|269=0|270=1950.10|269=1|270=1950.60|"))
	require.NoError(t, err)
	assert.Equal(t, "1950.60", m[fix.TagMDEntryPx])
	assert.Equal(t, "1", m[fix.TagMDEntryType])
}

func TestParse_Malformed(t *testing.T) {
	_, err := fix.Parse(pipe("35=0|garbage|"))
	assert.ErrorIs(t, err, fix.ErrMalformed)

	_, err = fix.Parse(nil)
	assert.ErrorIs(t, err, fix.ErrMalformed)
}

func TestExtractFrame_Incomplete(t *testing.T) {
	raw := newEncoder().Encode(fix.MsgTypeHeartbeat)

	for cut := 0; cut < len(raw); cut++ {
		_, rest, err := fix.ExtractFrame(raw[:cut])
		require.ErrorIs(t, err, fix.ErrIncomplete, "cut at %d", cut)
		// Nothing that belongs to the frame may be thrown away.
		require.True(t, bytes.HasSuffix(raw[:cut], rest))
	}

	frame, rest, err := fix.ExtractFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, frame)
	assert.Empty(t, rest)
}

func TestExtractFrame_MarkersInsideValues(t *testing.T) {
	enc := newEncoder()
	tricky := enc.Encode(fix.MsgTypeLogout, fix.F(fix.TagText, "peer said 8=FIX and 10=123 110=7"))
	next := enc.Encode(fix.MsgTypeHeartbeat)
	stream := append(append([]byte{}, tricky...), next...)

	frame, rest, err := fix.ExtractFrame(stream)
	require.NoError(t, err)
	assert.Equal(t, tricky, frame)
	require.NoError(t, fix.Verify(frame))

	frame, rest, err = fix.ExtractFrame(rest)
	require.NoError(t, err)
	assert.Equal(t, next, frame)
	assert.Empty(t, rest)
}

func TestExtractFrame_SkipsLeadingGarbage(t *testing.T) {
	raw := newEncoder().Encode(fix.MsgTypeHeartbeat)
	stream := append([]byte("noise\x01more noise\x01"), raw...)

	frame, _, err := fix.ExtractFrame(stream)
	require.NoError(t, err)
	assert.Equal(t, raw, frame)
}

func TestVerify_Errors(t *testing.T) {
	raw := newEncoder().Encode(fix.MsgTypeTestRequest, fix.F(fix.TagTestReqID, "T1"))

	corrupt := bytes.Clone(raw)
	i := bytes.Index(corrupt, []byte("T1"))
	corrupt[i+1] = '2'
	assert.ErrorIs(t, fix.Verify(corrupt), fix.ErrChecksumMismatch)

	shortBody := bytes.Replace(raw, []byte("112=T1\x01"), []byte("112=T\x01"), 1)
	assert.ErrorIs(t, fix.Verify(shortBody), fix.ErrBodyLength)

	assert.ErrorIs(t, fix.Verify(pipe("9=5|35=0|10=000|")), fix.ErrMalformed)
	assert.NoError(t, fix.Verify(raw))
}

func TestFramer_ChunkingInvariance(t *testing.T) {
	enc := newEncoder()
	var stream []byte
	var want [][]byte
	for i := 0; i < 5; i++ {
		m := enc.Encode(fix.MsgTypeMarketDataSnapshot,
			fix.F(fix.TagSymbol, "EURUSD.r"),
			fix.F(fix.TagNoMDEntries, "2"),
			fix.F(fix.TagMDEntryType, "0"),
			fix.F(fix.TagMDEntryPx, "1.0850"+strconv.Itoa(i)),
			fix.F(fix.TagMDEntryType, "1"),
			fix.F(fix.TagMDEntryPx, "1.0852"+strconv.Itoa(i)),
		)
		want = append(want, m)
		stream = append(stream, m...)
	}

	collect := func(chunks [][]byte) [][]byte {
		f := fix.NewFramer(0)
		var got [][]byte
		for _, c := range chunks {
			require.NoError(t, f.Write(c))
			for {
				frame, err := f.Next()
				if err != nil {
					require.ErrorIs(t, err, fix.ErrIncomplete)
					break
				}
				got = append(got, frame)
			}
		}
		assert.Zero(t, f.Buffered())
		return got
	}

	require.Equal(t, want, collect([][]byte{stream}))

	for cut := 1; cut < len(stream); cut++ {
		require.Equal(t, want, collect([][]byte{stream[:cut], stream[cut:]}), "split at %d", cut)
	}

	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := stream; len(rest) > 0; {
			n := 1 + r.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		require.Equal(t, want, collect(chunks))
	}
}

func TestFramer_Overflow(t *testing.T) {
	f := fix.NewFramer(16)
	assert.ErrorIs(t, f.Write([]byte("8=FIX.4.3\x019=1000\x0135=W")), fix.ErrOverflow)
	assert.Zero(t, f.Buffered())

	raw := newEncoder().Encode(fix.MsgTypeHeartbeat)
	f = fix.NewFramer(0)
	require.NoError(t, f.Write(raw))
	frame, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, raw, frame)
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, fix.IsAdmin(fix.MsgTypeLogon))
	assert.True(t, fix.IsAdmin(fix.MsgTypeTestRequest))
	assert.False(t, fix.IsAdmin(fix.MsgTypeMarketDataSnapshot))
}
