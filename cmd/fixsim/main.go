package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/fixsim/internal/simulator"
	"github.com/shubham-shewale/fixquotes/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Sim.Port)))
	if err != nil {
		logger.Fatal("Failed to listen", zap.Int("port", cfg.Sim.Port), zap.Error(err))
	}

	prices := simulator.NewPriceSource(simulator.DefaultBasePrices, cfg.FIX.SymbolSuffixes, simulator.NewRealRand(time.Now().UnixNano()))
	srv := simulator.NewServer(simulator.Config{
		CompID:            cfg.FIX.TargetCompID,
		HeartbeatInterval: cfg.Sim.HeartbeatInterval,
		TickInterval:      cfg.Sim.TickInterval,
	}, prices, simulator.RealClock{}, logger)

	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("Simulator stopped", zap.Error(err))
		return
	}
	logger.Info("Simulator exited cleanly")
}
