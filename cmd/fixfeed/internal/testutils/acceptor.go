package testutils

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

// FakeAcceptor is an in-process FIX counterparty on a loopback port. It records every
// frame it receives and can push frames back to the most recent connection.
type FakeAcceptor struct {
	t  testing.TB
	ln net.Listener

	autoLogon atomic.Bool

	mu   sync.Mutex
	conn net.Conn
	seq  fix.SeqNum

	received chan *fix.Message
	accepts  atomic.Int32
	closed   chan struct{}
}

func NewFakeAcceptor(t testing.TB) *FakeAcceptor {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := &FakeAcceptor{
		t:        t,
		ln:       ln,
		received: make(chan *fix.Message, 1024),
		closed:   make(chan struct{}),
	}
	a.autoLogon.Store(true)
	go a.acceptLoop()
	t.Cleanup(a.Close)
	return a
}

func (a *FakeAcceptor) Addr() string { return a.ln.Addr().String() }

// SetAutoLogon controls whether every Logon is answered with a Logon ack. On by default.
func (a *FakeAcceptor) SetAutoLogon(on bool) { a.autoLogon.Store(on) }

// Accepts counts inbound TCP connections so far.
func (a *FakeAcceptor) Accepts() int { return int(a.accepts.Load()) }

func (a *FakeAcceptor) acceptLoop() {
	for {
		c, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.accepts.Add(1)
		a.mu.Lock()
		a.conn = c
		a.seq.Reset()
		a.mu.Unlock()
		go a.serve(c)
	}
}

func (a *FakeAcceptor) serve(c net.Conn) {
	framer := fix.NewFramer(0)
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			_ = framer.Write(buf[:n])
			for {
				frame, ferr := framer.Next()
				if ferr != nil {
					break
				}
				msg, perr := fix.Parse(frame)
				if perr != nil {
					continue
				}
				if a.autoLogon.Load() && msg.MsgType() == fix.MsgTypeLogon {
					_ = a.Send(fix.MsgTypeLogon,
						fix.F(fix.TagEncryptMethod, fix.EncryptMethodNone),
						fix.F(fix.TagHeartBtInt, msg.Get(fix.TagHeartBtInt)))
				}
				select {
				case a.received <- msg:
				case <-a.closed:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Send writes a well-formed frame to the current connection.
func (a *FakeAcceptor) Send(msgType string, fields ...fix.Field) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return errors.New("no connection")
	}
	frame := fix.Build(msgType, a.seq.Next(), time.Now(), "FIX_GATEWAY", "QUOTES_CLIENT", fields)
	_, err := a.conn.Write(frame)
	return err
}

// SendRaw writes bytes as is, for split or corrupted frames.
func (a *FakeAcceptor) SendRaw(b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return errors.New("no connection")
	}
	_, err := a.conn.Write(b)
	return err
}

// DropConnection closes the current connection from the acceptor side.
func (a *FakeAcceptor) DropConnection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// Expect returns the next received message of msgType, skipping others.
func (a *FakeAcceptor) Expect(msgType string, timeout time.Duration) *fix.Message {
	a.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-a.received:
			if msg.MsgType() == msgType {
				return msg
			}
		case <-deadline:
			a.t.Fatalf("no %q message within %s", msgType, timeout)
			return nil
		}
	}
}

// Collect gathers every message matching match that arrives within d.
func (a *FakeAcceptor) Collect(d time.Duration, match func(*fix.Message) bool) []*fix.Message {
	var out []*fix.Message
	deadline := time.After(d)
	for {
		select {
		case msg := <-a.received:
			if match(msg) {
				out = append(out, msg)
			}
		case <-deadline:
			return out
		}
	}
}

func (a *FakeAcceptor) Close() {
	select {
	case <-a.closed:
		return
	default:
		close(a.closed)
	}
	a.ln.Close()
	a.DropConnection()
}
