// Package supervisor keeps the FIX session alive: it polls liveness and schedules a single
// reconnect attempt after a backoff delay whenever the session is down.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Target is the engine being supervised.
type Target interface {
	IsConnected() bool
	Reconnect(ctx context.Context) error
}

type Metrics interface {
	ReconnectAttempt(result string)
}

type nopMetrics struct{}

func (nopMetrics) ReconnectAttempt(string) {}

type Config struct {
	CheckInterval time.Duration
	Delay         time.Duration
	MaxDelay      time.Duration
	Strategy      string // "constant" or "exponential"
}

// NewPolicy maps the configured strategy onto a backoff policy that never gives up.
func NewPolicy(cfg Config) backoff.BackOff {
	if cfg.Strategy == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.Delay
		if cfg.MaxDelay > 0 {
			b.MaxInterval = cfg.MaxDelay
		}
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(cfg.Delay)
}

type Supervisor struct {
	target  Target
	cfg     Config
	logger  *zap.Logger
	metrics Metrics

	mu     sync.Mutex // guards policy
	policy backoff.BackOff

	inFlight atomic.Bool
	attempts atomic.Int64
	wg       sync.WaitGroup
}

func New(target Target, cfg Config, logger *zap.Logger, metrics Metrics) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Supervisor{
		target:  target,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		policy:  NewPolicy(cfg),
	}
}

// Run polls until ctx is cancelled, then waits for an in-flight attempt to unwind.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.logger.Info("Reconnect supervisor started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Duration("delay", s.cfg.Delay),
		zap.String("strategy", s.cfg.Strategy))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check schedules a reconnect if the target is down and none is pending. It reports
// whether an attempt was scheduled.
func (s *Supervisor) Check(ctx context.Context) bool {
	if s.target.IsConnected() {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	delay := s.policy.NextBackOff()
	s.mu.Unlock()
	if delay == backoff.Stop {
		delay = s.cfg.MaxDelay
	}

	n := s.attempts.Add(1)
	s.logger.Warn("FIX session down, reconnect scheduled", zap.Int64("attempt", n), zap.Duration("in", delay))

	s.wg.Add(1)
	go s.attempt(ctx, n, delay)
	return true
}

// Attempts is the number of reconnects scheduled so far.
func (s *Supervisor) Attempts() int { return int(s.attempts.Load()) }

func (s *Supervisor) attempt(ctx context.Context, n int64, delay time.Duration) {
	defer s.wg.Done()
	defer s.inFlight.Store(false)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := s.target.Reconnect(ctx); err != nil {
		s.metrics.ReconnectAttempt("failure")
		s.logger.Warn("Reconnect failed", zap.Int64("attempt", n), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.policy.Reset()
	s.mu.Unlock()

	s.metrics.ReconnectAttempt("success")
	s.logger.Info("Reconnected", zap.Int64("attempt", n))
}
