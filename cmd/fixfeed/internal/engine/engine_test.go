package engine_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/engine"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/session"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/supervisor"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/testutils"
	"github.com/shubham-shewale/fixquotes/pkg/fix"
)

const wait = 2 * time.Second

func newEngine(t *testing.T, addr string, symbols []string, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Config{
		Session: session.Config{
			Addr:              addr,
			SenderCompID:      "QUOTES_CLIENT",
			TargetCompID:      "FIX_GATEWAY",
			ResetSeqNum:       true,
			HeartbeatInterval: 30 * time.Second,
			ReadTimeout:       5 * time.Second,
			LogoutGrace:       50 * time.Millisecond,
		},
		Account:     "ACC1",
		Symbols:     symbols,
		SettleDelay: time.Second,
	}, zap.NewNop(), opts...)
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e
}

func snapshot(symbol, bid, ask string) []fix.Field {
	return []fix.Field{
		fix.F(fix.TagMDReqID, "r1"),
		fix.F(fix.TagSymbol, symbol),
		fix.F(fix.TagNoMDEntries, "2"),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeBid), fix.F(fix.TagMDEntryPx, bid),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeOffer), fix.F(fix.TagMDEntryPx, ask),
	}
}

func TestEngine_SubscribesAfterLogon(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	e := newEngine(t, acc.Addr(), []string{"EURUSD", "XAUUSD"})

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsConnected())

	acc.Expect(fix.MsgTypeLogon, wait)
	first := acc.Expect(fix.MsgTypeMarketDataRequest, wait)
	second := acc.Expect(fix.MsgTypeMarketDataRequest, wait)

	assert.Equal(t, "EURUSD", first.Get(fix.TagSymbol))
	assert.Equal(t, "ACC1", first.Get(fix.TagAccount))
	assert.Equal(t, "XAUUSD", second.Get(fix.TagSymbol))
	assert.Equal(t, first.SeqNum()+1, second.SeqNum())
}

func TestEngine_SnapshotReachesCacheAndSink(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	sink := &testutils.MockSink{}
	e := newEngine(t, acc.Addr(), []string{"XAUUSD"}, engine.WithSink(sink))
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, acc.Send(fix.MsgTypeMarketDataSnapshot, snapshot("XAUUSD", "1950.10", "1950.60")...))

	require.Eventually(t, func() bool { return sink.Len() == 1 }, wait, 10*time.Millisecond)

	for _, lookup := range []string{"XAUUSD", "xauusd"} {
		q, ok := e.GetCachedPrice(lookup)
		require.True(t, ok, lookup)
		assert.Equal(t, 1950.10, q.Bid)
		assert.Equal(t, 1950.60, q.Ask)
		assert.InDelta(t, 50.0, q.Spread, 1e-9)
	}
}

func TestEngine_SuffixedSymbolCachedUnderBothNames(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	sink := &testutils.MockSink{}
	e := newEngine(t, acc.Addr(), []string{"EURUSD.r"}, engine.WithSink(sink))
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, acc.Send(fix.MsgTypeMarketDataSnapshot, snapshot("EURUSD.r", "1.08500", "1.08512")...))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, wait, 10*time.Millisecond)

	for _, lookup := range []string{"EURUSD", "eurusd", "EURUSD.r", "EURUSD.R"} {
		q, ok := e.GetCachedPrice(lookup)
		require.True(t, ok, lookup)
		assert.Equal(t, 1.085, q.Bid)
	}

	all := e.GetAllCachedPrices()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "EURUSD")
	assert.Contains(t, all, "EURUSD.R")
}

func TestEngine_OneSidedSnapshotIgnored(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	sink := &testutils.MockSink{}
	e := newEngine(t, acc.Addr(), []string{"EURUSD"}, engine.WithSink(sink))
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, acc.Send(fix.MsgTypeMarketDataSnapshot,
		fix.F(fix.TagSymbol, "EURUSD"),
		fix.F(fix.TagNoMDEntries, "1"),
		fix.F(fix.TagMDEntryType, fix.MDEntryTypeBid), fix.F(fix.TagMDEntryPx, "1.1"),
	))
	// A full snapshot afterwards proves the one-sided one was processed first.
	require.NoError(t, acc.Send(fix.MsgTypeMarketDataSnapshot, snapshot("GBPUSD", "1.26", "1.27")...))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, wait, 10*time.Millisecond)

	_, ok := e.GetCachedPrice("EURUSD")
	assert.False(t, ok)
	assert.Equal(t, 1, e.CachedSymbols())
}

func TestEngine_StartWithoutGateway(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	addr := acc.Addr()
	acc.Close()

	e := newEngine(t, addr, []string{"EURUSD"})
	assert.Error(t, e.Start(context.Background()))
	assert.False(t, e.IsConnected())
	assert.Equal(t, session.Disconnected, e.State())
}

func TestEngine_LogonNeverAcknowledged(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	acc.SetAutoLogon(false)

	e := engine.New(engine.Config{
		Session: session.Config{
			Addr:         acc.Addr(),
			SenderCompID: "QUOTES_CLIENT",
			TargetCompID: "FIX_GATEWAY",
			LogoutGrace:  10 * time.Millisecond,
		},
		Symbols:     []string{"EURUSD"},
		SettleDelay: 100 * time.Millisecond,
	}, zap.NewNop())
	defer e.Stop(context.Background())

	err := e.Start(context.Background())
	assert.ErrorIs(t, err, session.ErrLogonTimeout)
	assert.False(t, e.IsConnected())
}

// requestFailingDialer hands out connections whose writes fail once a
// MarketDataRequest is sent.
type requestFailingDialer struct{ net.Dialer }

func (d *requestFailingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &requestFailingConn{Conn: conn}, nil
}

type requestFailingConn struct{ net.Conn }

func (c *requestFailingConn) Write(b []byte) (int, error) {
	if bytes.Contains(b, []byte("\x0135=V\x01")) {
		return 0, errors.New("write: broken pipe")
	}
	return c.Conn.Write(b)
}

func TestEngine_FailedSubscriptionLeavesEngineReconnectable(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	e := newEngine(t, acc.Addr(), []string{"EURUSD"}, engine.WithDialer(&requestFailingDialer{}))

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.False(t, e.IsConnected())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := supervisor.New(e, supervisor.Config{CheckInterval: time.Hour, Delay: time.Hour}, zap.NewNop(), nil)
	assert.True(t, sup.Check(ctx))
	assert.Equal(t, 1, sup.Attempts())
}

func TestEngine_PeerCloseTriggersScheduledReconnect(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	e := newEngine(t, acc.Addr(), []string{"EURUSD"})
	require.NoError(t, e.Start(context.Background()))
	acc.Expect(fix.MsgTypeMarketDataRequest, wait)

	delay := 300 * time.Millisecond
	sup := supervisor.New(e, supervisor.Config{CheckInterval: 20 * time.Millisecond, Delay: delay}, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	dropped := time.Now()
	acc.DropConnection()

	require.Eventually(t, func() bool { return !e.IsConnected() }, wait, 5*time.Millisecond)

	// Not immediately...
	time.Sleep(delay / 2)
	assert.Equal(t, 1, acc.Accepts())

	// ...and not never.
	require.Eventually(t, e.IsConnected, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, acc.Accepts())
	assert.GreaterOrEqual(t, time.Since(dropped), delay)

	// The new session logs on with a reset sequence and resubscribes.
	logon := acc.Expect(fix.MsgTypeLogon, wait)
	assert.Equal(t, 1, logon.SeqNum())
	req := acc.Expect(fix.MsgTypeMarketDataRequest, wait)
	assert.Equal(t, "EURUSD", req.Get(fix.TagSymbol))
}

func TestEngine_StopLogsOut(t *testing.T) {
	acc := testutils.NewFakeAcceptor(t)
	e := newEngine(t, acc.Addr(), nil)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Stop(context.Background()))

	acc.Expect(fix.MsgTypeLogout, wait)
	assert.False(t, e.IsConnected())
	assert.Error(t, e.Reconnect(context.Background()))
}
