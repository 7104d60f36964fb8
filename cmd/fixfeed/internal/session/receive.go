package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

const readChunk = 4096

// readLoop reads with a bounded deadline so a silent peer is noticed. One quiet interval
// earns a TestRequest; a second consecutive one takes the session down.
func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()

	framer := fix.NewFramer(s.cfg.MaxFrameBytes)
	buf := make([]byte, readChunk)
	quiet := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.terminate(fmt.Errorf("session: set read deadline: %w", err))
			return
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			quiet = 0
			if werr := framer.Write(buf[:n]); werr != nil {
				s.metrics.FrameDropped("overflow")
				s.logger.Warn("Receive buffer overflow, resynchronising", zap.Error(werr))
			}
			if derr := s.drain(framer); derr != nil {
				if errors.Is(derr, errLogoutConfirmed) {
					derr = nil
				}
				s.terminate(derr)
				return
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				quiet++
				if quiet >= 2 {
					s.terminate(fmt.Errorf("%w for %s", ErrPeerSilent, 2*s.cfg.ReadTimeout))
					return
				}
				if s.State() == Active {
					s.sendTestRequest()
				}
				continue
			}
			if s.State() == LoggingOut {
				// Peer hung up after our Logout.
				s.terminate(nil)
				return
			}
			s.terminate(fmt.Errorf("session: read: %w", err))
			return
		}
	}
}

// drain hands every complete frame to dispatch in arrival order. Bad frames are dropped;
// only session-level outcomes are returned as errors.
func (s *Session) drain(framer *fix.Framer) error {
	for {
		frame, err := framer.Next()
		if errors.Is(err, fix.ErrIncomplete) {
			return nil
		}

		if err := fix.Verify(frame); err != nil {
			s.metrics.FrameDropped(dropReason(err))
			s.logger.Warn("Dropping invalid frame", zap.Error(err), zap.Int("bytes", len(frame)))
			continue
		}
		msg, err := fix.Parse(frame)
		if err != nil {
			s.metrics.FrameDropped(dropReason(err))
			s.logger.Warn("Dropping unparsable frame", zap.Error(err))
			continue
		}

		if seq := msg.SeqNum(); seq > 0 {
			s.lastInbound.Store(int64(seq))
		}
		s.metrics.FrameReceived(msg.MsgType())

		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg *fix.Message) error {
	switch msg.MsgType() {
	case fix.MsgTypeLogon:
		if s.state.CompareAndSwap(int32(AwaitingLogonAck), int32(Active)) {
			s.metrics.StateChanged(Active)
			s.logonAckOnce.Do(func() { close(s.logonAck) })
			s.logger.Info("Logon acknowledged", zap.String("heartbeat", msg.Get(fix.TagHeartBtInt)))
		}

	case fix.MsgTypeHeartbeat:
		// Keepalive only; the read deadline already moved.

	case fix.MsgTypeTestRequest:
		id := msg.Get(fix.TagTestReqID)
		if err := s.send(fix.MsgTypeHeartbeat, fix.F(fix.TagTestReqID, id)); err != nil {
			return fmt.Errorf("session: answer test request: %w", err)
		}

	case fix.MsgTypeResendRequest:
		s.logger.Info("ResendRequest, resetting sequence",
			zap.String("begin", msg.Get(fix.TagBeginSeqNo)),
			zap.String("end", msg.Get(fix.TagEndSeqNo)))
		if err := s.sendSequenceReset(); err != nil {
			return fmt.Errorf("session: sequence reset: %w", err)
		}

	case fix.MsgTypeSequenceReset:
		s.logger.Debug("SequenceReset from peer", zap.String("new_seq", msg.Get(fix.TagNewSeqNo)))

	case fix.MsgTypeReject:
		return fmt.Errorf("%w: ref_seq=%s reason=%s text=%q", ErrPeerReject,
			msg.Get(fix.TagRefSeqNum), msg.Get(fix.TagSessionRejReason), msg.Get(fix.TagText))

	case fix.MsgTypeLogout:
		if s.state.CompareAndSwap(int32(Active), int32(LoggingOut)) ||
			s.state.CompareAndSwap(int32(AwaitingLogonAck), int32(LoggingOut)) {
			s.metrics.StateChanged(LoggingOut)
			if err := s.send(fix.MsgTypeLogout); err != nil {
				s.logger.Debug("Logout reply not delivered", zap.Error(err))
			}
		} else if s.State() == LoggingOut {
			// Answer to our own Logout.
			return errLogoutConfirmed
		}
		if text := msg.Get(fix.TagText); text != "" {
			return fmt.Errorf("%w: %s", ErrPeerLogout, text)
		}
		return ErrPeerLogout

	default:
		s.handler.HandleMessage(msg)
	}
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, fix.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, fix.ErrBodyLength):
		return "body_length"
	default:
		return "malformed"
	}
}
