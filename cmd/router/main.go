package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klavis-AI/playwright-mcp/internal/config"
	"github.com/Klavis-AI/playwright-mcp/internal/router"
)

const (
	serverName    = "playwright-mcp-router"
	serverVersion = "0.1.0"
)

var (
	version = flag.Bool("version", false, "Print version and exit")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", serverName, serverVersion)
		os.Exit(0)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := config.LoadRouter()

	logger.Info("Starting router",
		"version", serverVersion,
		"port", cfg.Port,
		"headless", cfg.Headless,
		"idle_timeout", cfg.IdleTimeout,
		"worker_bin", cfg.WorkerBin,
	)

	supervisor := router.NewSupervisor(cfg.WorkerBin, cfg.Headless, cfg.StartupTimeout, logger)
	registry := router.NewRegistry(supervisor, logger)

	srv := router.NewServer(registry, router.Config{
		Name:        serverName,
		Version:     serverVersion,
		IdleTimeout: cfg.IdleTimeout,
		Headless:    cfg.Headless,
	}, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start public HTTP server
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Start idle reaper
	go registry.StartReaper(ctx, cfg.ReapInterval, cfg.IdleTimeout, cfg.ShutdownGrace)

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context canceled")
	}

	logger.Info("Shutting down gracefully")
	cancel()

	// Stop accepting traffic; SSE streams will not drain on their own, so
	// bound the wait and close whatever remains.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful HTTP shutdown timed out, forcing close")
		_ = httpServer.Close()
	}

	// Terminate every live worker, graceful then forced.
	registry.ShutdownAll(cfg.ShutdownGrace)

	logger.Info("Router shutdown complete")
}
