package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrAlreadyStarted = errors.New("session: already started")
	ErrLogonTimeout   = errors.New("session: logon not acknowledged")
	ErrPeerLogout     = errors.New("session: logout received")
	ErrPeerReject     = errors.New("session: reject received")
	ErrPeerSilent     = errors.New("session: peer silent")
)

// errLogoutConfirmed ends the read loop cleanly once the peer answers a local Logout.
var errLogoutConfirmed = errors.New("session: logout confirmed")

// Config is everything a session needs to reach and log on to the gateway.
type Config struct {
	Addr         string
	SenderCompID string
	TargetCompID string
	Username     string
	Password     string
	ResetSeqNum  bool

	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	LogoutGrace       time.Duration
	MaxFrameBytes     int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.LogoutGrace <= 0 {
		c.LogoutGrace = 2 * time.Second
	}
	return c
}

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Handler receives application messages from the receive goroutine, in arrival order.
type Handler interface {
	HandleMessage(msg *fix.Message)
}

type HandlerFunc func(msg *fix.Message)

func (f HandlerFunc) HandleMessage(msg *fix.Message) { f(msg) }

// Metrics observes the session. Implementations must be safe for concurrent use.
type Metrics interface {
	FrameReceived(msgType string)
	FrameDropped(reason string)
	StateChanged(state State)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(string) {}
func (nopMetrics) FrameDropped(string)  {}
func (nopMetrics) StateChanged(State)   {}

type Option func(*Session)

func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source used for SendingTime.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.enc.Now = now }
}
