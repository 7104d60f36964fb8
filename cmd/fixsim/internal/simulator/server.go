// Package simulator is a FIX 4.3 acceptor that stands in for the upstream market-data
// gateway during local development. It answers the session layer and streams random-walk
// snapshots for every subscribed symbol.
package simulator

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

var errLoggedOut = errors.New("peer logged out")

const (
	writeTimeout = 5 * time.Second

	// MDReqRejReason for a symbol the simulator does not quote.
	rejectUnknownSymbol = "0"
)

type Config struct {
	CompID            string
	HeartbeatInterval time.Duration
	TickInterval      time.Duration
}

type Server struct {
	cfg    Config
	prices *PriceSource
	clock  Clock
	logger *zap.Logger

	sessions atomic.Int32
}

func NewServer(cfg Config, prices *PriceSource, clock Clock, logger *zap.Logger) *Server {
	if cfg.CompID == "" {
		cfg.CompID = "FIX_GATEWAY"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	return &Server{cfg: cfg, prices: prices, clock: clock, logger: logger}
}

// Sessions is the number of connections currently served.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

// Serve accepts connections on ln until ctx ends. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		s.logger.Info("Simulator listening", zap.String("addr", ln.Addr().String()))
		for {
			c, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			g.Go(func() error {
				s.serveConn(gctx, c)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type conn struct {
	srv    *Server
	c      net.Conn
	logger *zap.Logger

	mu       sync.Mutex // guards enc, subs and writes
	enc      fix.Encoder
	seq      fix.SeqNum
	subs     map[string]string // symbol -> MDReqID
	loggedOn atomic.Bool
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	sc := &conn{
		srv:    s,
		c:      c,
		logger: s.logger.With(zap.String("remote", c.RemoteAddr().String())),
		subs:   make(map[string]string),
	}
	sc.enc = fix.Encoder{SenderCompID: s.cfg.CompID, Seq: &sc.seq, Now: s.clock.Now}
	sc.logger.Info("Initiator connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return c.Close()
	})
	g.Go(sc.readLoop)
	g.Go(func() error { return sc.pump(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, errLoggedOut) && !errors.Is(err, net.ErrClosed) {
		sc.logger.Info("Initiator gone", zap.Error(err))
		return
	}
	sc.logger.Info("Initiator gone")
}

func (sc *conn) readLoop() error {
	framer := fix.NewFramer(0)
	buf := make([]byte, 4096)
	for {
		n, err := sc.c.Read(buf)
		if n > 0 {
			if werr := framer.Write(buf[:n]); werr != nil {
				return werr
			}
			for {
				frame, ferr := framer.Next()
				if ferr != nil {
					break
				}
				msg, perr := fix.Parse(frame)
				if perr != nil {
					sc.logger.Warn("Bad frame from initiator", zap.Error(perr))
					continue
				}
				if herr := sc.handle(msg); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

func (sc *conn) handle(msg *fix.Message) error {
	switch msg.MsgType() {
	case fix.MsgTypeLogon:
		return sc.onLogon(msg)
	case fix.MsgTypeTestRequest:
		return sc.send(fix.MsgTypeHeartbeat, fix.F(fix.TagTestReqID, msg.Get(fix.TagTestReqID)))
	case fix.MsgTypeLogout:
		sc.loggedOn.Store(false)
		if err := sc.send(fix.MsgTypeLogout); err != nil {
			return err
		}
		return errLoggedOut
	case fix.MsgTypeMarketDataRequest:
		if !sc.loggedOn.Load() {
			sc.logger.Warn("MarketDataRequest before Logon ignored")
			return nil
		}
		return sc.onMarketDataRequest(msg)
	default:
		sc.logger.Debug("Ignored", zap.String("msg_type", msg.MsgType()))
		return nil
	}
}

func (sc *conn) onLogon(msg *fix.Message) error {
	sc.mu.Lock()
	sc.enc.TargetCompID = msg.Get(fix.TagSenderCompID)
	sc.mu.Unlock()

	fields := []fix.Field{
		fix.F(fix.TagEncryptMethod, fix.EncryptMethodNone),
		fix.F(fix.TagHeartBtInt, msg.Get(fix.TagHeartBtInt)),
	}
	if msg.Get(fix.TagResetSeqNumFlag) == "Y" {
		sc.seq.Reset()
		fields = append(fields, fix.F(fix.TagResetSeqNumFlag, "Y"))
	}
	if err := sc.send(fix.MsgTypeLogon, fields...); err != nil {
		return err
	}
	sc.loggedOn.Store(true)
	sc.logger.Info("Logon accepted", zap.String("sender", msg.Get(fix.TagSenderCompID)), zap.String("user", msg.Get(fix.TagUsername)))
	return nil
}

// onMarketDataRequest handles every Symbol in the request: known ones are subscribed and
// get an immediate snapshot, unknown ones a MarketDataRequestReject.
func (sc *conn) onMarketDataRequest(msg *fix.Message) error {
	reqID := msg.Get(fix.TagMDReqID)
	unsubscribe := msg.Get(fix.TagSubscriptionRequestType) == "2"

	for _, f := range msg.Body() {
		if f.Tag != fix.TagSymbol {
			continue
		}
		symbol := f.Value

		if unsubscribe {
			sc.mu.Lock()
			delete(sc.subs, symbol)
			sc.mu.Unlock()
			continue
		}

		tick, ok := sc.srv.prices.Next(symbol)
		if !ok {
			sc.logger.Info("Unknown symbol rejected", zap.String("symbol", symbol))
			if err := sc.send(fix.MsgTypeMarketDataReject,
				fix.F(fix.TagMDReqID, reqID),
				fix.F(fix.TagMDReqRejReason, rejectUnknownSymbol),
				fix.F(fix.TagText, "Unknown symbol "+symbol),
			); err != nil {
				return err
			}
			continue
		}

		sc.mu.Lock()
		sc.subs[symbol] = reqID
		sc.mu.Unlock()
		sc.logger.Info("Subscribed", zap.String("symbol", symbol), zap.String("md_req_id", reqID))

		if err := sc.send(fix.MsgTypeMarketDataSnapshot, tick.Fields(reqID)...); err != nil {
			return err
		}
	}
	return nil
}

// pump drives heartbeats and price ticks while the session is logged on.
func (sc *conn) pump(ctx context.Context) error {
	heartbeat := time.NewTicker(sc.srv.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	ticks := time.NewTicker(sc.srv.cfg.TickInterval)
	defer ticks.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if !sc.loggedOn.Load() {
				continue
			}
			if err := sc.send(fix.MsgTypeHeartbeat); err != nil {
				return err
			}
		case <-ticks.C:
			if !sc.loggedOn.Load() {
				continue
			}
			if err := sc.tick(); err != nil {
				return err
			}
		}
	}
}

func (sc *conn) tick() error {
	sc.mu.Lock()
	subs := make(map[string]string, len(sc.subs))
	for sym, id := range sc.subs {
		subs[sym] = id
	}
	sc.mu.Unlock()

	for sym, reqID := range subs {
		tick, ok := sc.srv.prices.Next(sym)
		if !ok {
			continue
		}
		if err := sc.send(fix.MsgTypeMarketDataSnapshot, tick.Fields(reqID)...); err != nil {
			return err
		}
	}
	return nil
}

func (sc *conn) send(msgType string, fields ...fix.Field) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	frame := sc.enc.Encode(msgType, fields...)
	if err := sc.c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := sc.c.Write(frame)
	return err
}
