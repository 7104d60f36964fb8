// Package engine owns the FIX session lifecycle and the quote cache it feeds. It is the
// only surface other code uses: IsConnected, GetCachedPrice and GetAllCachedPrices.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/marketdata"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/quotecache"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/session"
	"github.com/shubham-shewale/fixquotes/pkg/fix"
	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// QuoteSink receives every quote after it lands in the cache.
type QuoteSink interface {
	Publish(ctx context.Context, q models.Quote) error
}

type Metrics interface {
	session.Metrics
	marketdata.Metrics
	QuoteApplied()
	QuotePublished(err error)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(string)       {}
func (nopMetrics) FrameDropped(string)        {}
func (nopMetrics) StateChanged(session.State) {}
func (nopMetrics) QuoteParsed()               {}
func (nopMetrics) QuoteDropped(string)        {}
func (nopMetrics) QuoteApplied()              {}
func (nopMetrics) QuotePublished(error)       {}

type Config struct {
	Session  session.Config
	Account  string
	Symbols  []string
	Suffixes []string

	// SettleDelay bounds the wait for the Logon ack before subscriptions go out.
	SettleDelay time.Duration
	QueueSize   int
}

type Option func(*Engine)

func WithDialer(d session.Dialer) Option { return func(e *Engine) { e.dialer = d } }

func WithSink(s QuoteSink) Option { return func(e *Engine) { e.sink = s } }

func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

type Engine struct {
	cfg     Config
	logger  *zap.Logger
	dialer  session.Dialer
	sink    QuoteSink
	metrics Metrics

	aliases    symbols.Aliases
	cache      *quotecache.Cache
	seq        fix.SeqNum
	updates    chan models.Quote
	handler    *marketdata.Handler
	subscriber *marketdata.Subscriber

	// mu serializes Reconnect and Stop; readers use current.
	mu      sync.Mutex
	current atomic.Pointer[session.Session]
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: nopMetrics{},
		aliases: symbols.NewAliases(cfg.Suffixes),
		updates: make(chan models.Quote, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cache = quotecache.New(e.aliases)
	e.handler = marketdata.NewHandler(e.updates, logger, e.metrics)
	e.subscriber = marketdata.NewSubscriber(logger)
	return e
}

// Start launches the cache-update loop and makes the first connection attempt. A failed
// attempt is returned for logging only; the loop keeps running for the supervisor's retries.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.applyLoop(runCtx)

	return e.Reconnect(ctx)
}

// Reconnect replaces the current session: connect, log on, wait for the ack, subscribe.
func (e *Engine) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return fmt.Errorf("engine: stopped")
	}

	if old := e.current.Load(); old != nil {
		old.Close(ctx)
	}

	s := session.New(e.cfg.Session, &e.seq, e.dialer, e.handler, e.logger, session.WithMetrics(e.metrics))
	e.current.Store(s)

	if err := s.Connect(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.SettleDelay)
	err := s.WaitActive(wctx)
	cancel()
	if err != nil {
		s.Close(ctx)
		return fmt.Errorf("engine: logon: %w", err)
	}

	if err := e.subscriber.RequestSubscription(s, e.cfg.Symbols, e.cfg.Account); err != nil {
		s.Close(ctx)
		return fmt.Errorf("engine: subscribe: %w", err)
	}

	e.logger.Info("FIX feed connected", zap.String("addr", e.cfg.Session.Addr), zap.Int("symbols", len(e.cfg.Symbols)))
	return nil
}

// Stop logs out, stops the update loop and waits for it.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	s := e.current.Load()
	e.mu.Unlock()

	if s != nil {
		s.Close(ctx)
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return nil
}

func (e *Engine) IsConnected() bool {
	s := e.current.Load()
	return s != nil && s.IsActive()
}

func (e *Engine) State() session.State {
	if s := e.current.Load(); s != nil {
		return s.State()
	}
	return session.Disconnected
}

// GetCachedPrice looks symbol up case-insensitively, with or without a broker suffix.
func (e *Engine) GetCachedPrice(symbol string) (models.Quote, bool) {
	return e.cache.Get(symbol)
}

// GetAllCachedPrices returns a copy of the cache.
func (e *Engine) GetAllCachedPrices() map[string]models.Quote {
	return e.cache.Snapshot()
}

func (e *Engine) CachedSymbols() int { return e.cache.Len() }

func (e *Engine) applyLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-e.updates:
			e.apply(ctx, q)
		}
	}
}

// apply stores q under the raw symbol and, for suffixed symbols, the stripped one too.
func (e *Engine) apply(ctx context.Context, q models.Quote) {
	for _, key := range e.aliases.Keys(q.Symbol) {
		e.cache.Upsert(key, q)
	}
	e.metrics.QuoteApplied()

	if e.sink == nil {
		return
	}
	err := e.sink.Publish(ctx, q)
	e.metrics.QuotePublished(err)
	if err != nil {
		e.logger.Warn("Quote publish failed", zap.String("symbol", q.Symbol), zap.Error(err))
	}
}
