// Package session runs one FIX 4.3 initiator session over TCP: logon, heartbeats,
// test requests and logout. A Session is single use; reconnecting means building a new one
// around the same sequence counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

type Session struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	metrics Metrics
	logger  *zap.Logger

	enc fix.Encoder

	state   atomic.Int32
	started atomic.Bool

	sendMu sync.Mutex
	conn   net.Conn

	logonAck     chan struct{}
	logonAckOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastInbound atomic.Int64
}

// New builds a session. seq is shared across reconnects so numbering continues unless the
// logon asks for a reset.
func New(cfg Config, seq *fix.SeqNum, dialer Dialer, handler Handler, logger *zap.Logger, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if handler == nil {
		handler = HandlerFunc(func(*fix.Message) {})
	}
	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		handler: handler,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("addr", cfg.Addr), zap.String("sender", cfg.SenderCompID)),
		enc: fix.Encoder{
			SenderCompID: cfg.SenderCompID,
			TargetCompID: cfg.TargetCompID,
			Seq:          seq,
		},
		logonAck: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the gateway, starts the receive loop and sends Logon. It returns once the
// Logon is written; use WaitActive for the acknowledgment. Dial failures are returned as is
// and never retried here.
func (s *Session) Connect(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.setState(Connecting)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.dialer.DialContext(dctx, "tcp", s.cfg.Addr)
	cancel()
	if err != nil {
		err = fmt.Errorf("session: dial %s: %w", s.cfg.Addr, err)
		s.terminate(err)
		return err
	}

	s.sendMu.Lock()
	s.conn = conn
	s.sendMu.Unlock()

	if s.cfg.ResetSeqNum {
		s.enc.Seq.Reset()
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	s.cancel = loopCancel

	// The receive loop must be running before Logon goes out or a fast ack is lost.
	s.setState(AwaitingLogonAck)
	s.wg.Add(2)
	go s.readLoop(loopCtx)
	go s.heartbeatLoop(loopCtx)

	fields := []fix.Field{
		fix.F(fix.TagEncryptMethod, fix.EncryptMethodNone),
		fix.F(fix.TagHeartBtInt, strconv.Itoa(int(s.cfg.HeartbeatInterval/time.Second))),
	}
	if s.cfg.ResetSeqNum {
		fields = append(fields, fix.F(fix.TagResetSeqNumFlag, "Y"))
	}
	if s.cfg.Username != "" {
		fields = append(fields, fix.F(fix.TagUsername, s.cfg.Username))
	}
	if s.cfg.Password != "" {
		fields = append(fields, fix.F(fix.TagPassword, s.cfg.Password))
	}

	if err := s.send(fix.MsgTypeLogon, fields...); err != nil {
		err = fmt.Errorf("session: send logon: %w", err)
		s.terminate(err)
		return err
	}
	s.logger.Info("Logon sent", zap.Int("next_seq", s.enc.Seq.Peek()))
	return nil
}

// WaitActive blocks until the Logon is acknowledged, the session dies or ctx ends.
func (s *Session) WaitActive(ctx context.Context) error {
	select {
	case <-s.logonAck:
		return nil
	case <-s.done:
		if s.err != nil {
			return s.err
		}
		return ErrNotConnected
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLogonTimeout
		}
		return ctx.Err()
	}
}

// Send writes an application message. It fails with ErrNotConnected unless the session is Active.
// A write error tears the session down.
func (s *Session) Send(msgType string, fields ...fix.Field) error {
	if s.State() != Active {
		return ErrNotConnected
	}
	if err := s.send(msgType, fields...); err != nil {
		err = fmt.Errorf("session: send %s: %w", msgType, err)
		s.terminate(err)
		return err
	}
	return nil
}

// Close logs out gracefully: Logout is sent, the peer gets LogoutGrace (or until ctx ends)
// to hang up, then the transport is closed regardless.
func (s *Session) Close(ctx context.Context) error {
	switch st := s.State(); st {
	case AwaitingLogonAck, Active:
		if s.state.CompareAndSwap(int32(st), int32(LoggingOut)) {
			s.metrics.StateChanged(LoggingOut)
			if err := s.send(fix.MsgTypeLogout); err != nil {
				s.logger.Warn("Logout send failed", zap.Error(err))
			}
		}
	case Connecting:
		// Connect owns the teardown on its own failure paths.
	}

	grace := time.NewTimer(s.cfg.LogoutGrace)
	defer grace.Stop()
	select {
	case <-s.done:
	case <-grace.C:
	case <-ctx.Done():
	}

	s.terminate(nil)
	s.wg.Wait()
	return nil
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) IsActive() bool { return s.State() == Active }

// Done is closed once the session has reached Disconnected for good.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the reason the session went down; nil for a local Close. Valid after Done.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// LastInboundSeq is the MsgSeqNum of the last frame accepted from the peer.
func (s *Session) LastInboundSeq() int { return int(s.lastInbound.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.metrics.StateChanged(st)
		s.logger.Debug("Session state", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// send encodes and writes one frame. All writers funnel through sendMu so frames never
// interleave and sequence numbers go out in order.
func (s *Session) send(msgType string, fields ...fix.Field) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.writeLocked(s.enc.Encode(msgType, fields...))
}

func (s *Session) writeLocked(frame []byte) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(frame)
	return err
}

// terminate moves the session to Disconnected exactly once. A session that is still logged
// on gets a best-effort Logout before the transport is closed.
func (s *Session) terminate(reason error) {
	s.closeOnce.Do(func() {
		st := s.State()
		if st == AwaitingLogonAck || st == Active {
			s.setState(LoggingOut)
			if err := s.send(fix.MsgTypeLogout); err != nil {
				s.logger.Debug("Logout on teardown not delivered", zap.Error(err))
			}
		}

		s.err = reason
		s.setState(Disconnected)
		if s.cancel != nil {
			s.cancel()
		}

		s.sendMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.sendMu.Unlock()

		close(s.done)

		if reason != nil {
			s.logger.Warn("FIX session down", zap.Error(reason))
		} else {
			s.logger.Info("FIX session closed")
		}
	})
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != Active {
				continue
			}
			if err := s.send(fix.MsgTypeHeartbeat); err != nil {
				s.terminate(fmt.Errorf("session: heartbeat: %w", err))
				return
			}
		}
	}
}

func (s *Session) sendTestRequest() {
	id := uuid.NewString()
	if err := s.send(fix.MsgTypeTestRequest, fix.F(fix.TagTestReqID, id)); err != nil {
		s.logger.Warn("TestRequest send failed", zap.Error(err))
		return
	}
	s.logger.Info("Peer quiet, TestRequest sent", zap.String("test_req_id", id))
}

// sendSequenceReset answers a ResendRequest in reset mode. NewSeqNo must be read under the
// same lock as the encode so it names the message after this one.
func (s *Session) sendSequenceReset() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	next := s.enc.Seq.Peek() + 1
	frame := s.enc.Encode(fix.MsgTypeSequenceReset,
		fix.F(fix.TagGapFillFlag, "N"),
		fix.F(fix.TagNewSeqNo, strconv.Itoa(next)),
	)
	return s.writeLocked(frame)
}
