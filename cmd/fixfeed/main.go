package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/engine"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/metrics"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/publisher"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/session"
	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/supervisor"
	"github.com/shubham-shewale/fixquotes/pkg/config"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Ensure the quote topic exists, then set up the writer
	topics := publisher.NewTopicCreator(logger,
		&publisher.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}},
		publisher.RealClock{}, 4)
	if err := topics.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Warn("Topic not confirmed, publishing anyway", zap.Error(err))
	}
	quotes := publisher.NewQuotePublisher(logger, publisher.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))

	// 4. Build the engine
	recorder := metrics.Recorder{}
	eng := engine.New(engine.Config{
		Session: session.Config{
			Addr:              cfg.FIX.Addr(),
			SenderCompID:      cfg.FIX.SenderCompID,
			TargetCompID:      cfg.FIX.TargetCompID,
			Username:          cfg.FIX.Username,
			Password:          cfg.FIX.Password,
			ResetSeqNum:       cfg.FIX.ResetSeqNum,
			HeartbeatInterval: cfg.FIX.HeartbeatInterval,
			ReadTimeout:       cfg.FIX.ReadTimeout,
			WriteTimeout:      cfg.FIX.WriteTimeout,
			DialTimeout:       cfg.FIX.DialTimeout,
			LogoutGrace:       cfg.FIX.LogoutGrace,
			MaxFrameBytes:     cfg.FIX.MaxFrameBytes,
		},
		Account:     cfg.FIX.Account,
		Symbols:     cfg.FIX.Symbols,
		Suffixes:    cfg.FIX.SymbolSuffixes,
		SettleDelay: cfg.FIX.SettleDelay,
	}, logger,
		engine.WithDialer(&net.Dialer{KeepAlive: 30 * time.Second}),
		engine.WithSink(quotes),
		engine.WithMetrics(recorder),
	)

	if err := metrics.RegisterGauges(prometheus.DefaultRegisterer, eng); err != nil {
		logger.Fatal("Failed to register gauges", zap.Error(err))
	}

	// 5. First connection; failures are left to the supervisor
	if err := eng.Start(ctx); err != nil {
		logger.Warn("Initial FIX connect failed", zap.Error(err))
	}

	sup := supervisor.New(eng, supervisor.Config{
		CheckInterval: cfg.Reconnect.CheckInterval,
		Delay:         cfg.Reconnect.Delay,
		MaxDelay:      cfg.Reconnect.MaxDelay,
		Strategy:      cfg.Reconnect.Strategy,
	}, logger, recorder)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, eng.IsConnected, logger) })

	logger.Info("FIX feed started",
		zap.String("gateway", cfg.FIX.Addr()),
		zap.Strings("symbols", cfg.FIX.Symbols))

	// 6. Wait for shutdown
	if err := g.Wait(); err != nil {
		logger.Error("Service error", zap.Error(err))
	}
	logger.Info("Shutdown signal received, logging out...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng.Stop(shutdownCtx)

	// 7. Flush Kafka Buffer
	if err := quotes.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	}
	logger.Info("FIX feed exited cleanly")
}
