package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/fixquotes/cmd/gateway/internal/repository"
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	repo := repository.NewRedisStore(rdb)

	// Dependency Injection: Hub depends on the Repository Interface
	wsHub := hub.NewHub(repo, hub.Config{
		Symbols:     cfg.FIX.Symbols,
		Suffixes:    cfg.FIX.SymbolSuffixes,
		MaxQuoteAge: cfg.Gateway.MaxQuoteAge,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}

		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Int("symbols", len(cfg.FIX.Symbols)))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := wsHub.Shutdown(); err != nil {
		logger.Warn("Hub shutdown", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
