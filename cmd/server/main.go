package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/bus"
	"github.com/dgnsrekt/realtime-sync/internal/config"
	"github.com/dgnsrekt/realtime-sync/internal/devserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.Int("tokens", len(cfg.Tokens)),
		zap.Duration("longPollTimeout", cfg.LongPollTimeout),
		zap.Int("queueBacklog", cfg.QueueBacklog),
		zap.Duration("queueTTL", cfg.QueueTTL),
		zap.String("scriptFile", cfg.ScriptFile),
		zap.Bool("busEnabled", cfg.BusEnabled),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := devserver.NewBroker(cfg.QueueBacklog, cfg.QueueTTL, logger)
	go broker.RunJanitor(ctx, cfg.JanitorInterval)

	if cfg.ScriptFile != "" {
		events, err := devserver.LoadScript(cfg.ScriptFile)
		if err != nil {
			logger.Error("failed to load event script", zap.String("path", cfg.ScriptFile), zap.Error(err))
			return 1
		}
		replayer := devserver.NewReplayer(broker, events, cfg.ScriptInterval, cfg.ScriptLoop, logger)
		go replayer.Run(ctx)
	}

	// Bus hub (optional)
	var hub *bus.Hub
	if cfg.BusEnabled {
		hub = bus.NewHub(logger)
		go hub.Run(ctx)
		logger.Info("bus enabled", zap.String("path", "/bus"))
	}

	srv := devserver.NewServer(broker, cfg, logger)
	router := devserver.NewRouter(srv, hub, logger)

	// Setup HTTP server. Writes must outlast the long poll.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LongPollTimeout + 30*time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Cancel context to stop the janitor, replay and bus hub
	cancel()

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
