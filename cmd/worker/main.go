package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klavis-AI/playwright-mcp/internal/config"
	"github.com/Klavis-AI/playwright-mcp/internal/ipc"
	"github.com/Klavis-AI/playwright-mcp/internal/worker"
)

const (
	serverName    = "playwright-mcp-worker"
	serverVersion = "0.1.0"
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	instanceID = flag.String("instance-id", "default", "Instance identifier this worker serves")
	port       = flag.Int("port", 0, "Loopback port to bind (0 for OS-assigned)")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", serverName, serverVersion)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("instance_id", *instanceID)
	slog.SetDefault(logger)

	cfg := config.LoadWorker()

	logger.Info("Starting worker",
		"version", serverVersion,
		"headless", cfg.Headless,
		"requested_port", *port,
	)

	shutdownCh := make(chan string, 1)

	// The browser launches once per worker lifetime; if it dies underneath
	// us, exit and let the router's exit listener respawn on next request.
	engine, err := worker.NewEngine(worker.EngineOptions{Headless: cfg.Headless}, func() {
		select {
		case shutdownCh <- "browser disconnected":
		default:
		}
	})
	if err != nil {
		logger.Error("Failed to start browser engine", "error", err)
		os.Exit(1)
	}

	srv := worker.NewServer(*instanceID, worker.MCPConfig{
		Name:    serverName,
		Version: serverVersion,
	}, engine, logger)

	boundPort, err := srv.Start(*port)
	if err != nil {
		logger.Error("Failed to start HTTP server", "error", err)
		engine.Close()
		os.Exit(1)
	}

	logger.Info("Worker listening", "port", boundPort)

	// Readiness handshake: report the bound port to the parent, then watch
	// the control channel for a shutdown request. A channel error means the
	// parent is gone, which is also a reason to exit.
	ctrl := ipc.ChildChannel()
	if err := ctrl.Send(ipc.Message{
		Type:       ipc.MessageReady,
		Port:       boundPort,
		InstanceID: *instanceID,
	}); err != nil {
		logger.Error("Failed to report readiness", "error", err)
		srv.Shutdown()
		engine.Close()
		os.Exit(1)
	}

	go func() {
		msg, recvErr := ctrl.Receive()
		if recvErr != nil {
			select {
			case shutdownCh <- "control channel closed":
			default:
			}
			return
		}
		if msg.Type == ipc.MessageShutdown {
			select {
			case shutdownCh <- "shutdown requested":
			default:
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var reason string
	select {
	case reason = <-shutdownCh:
	case sig := <-sigChan:
		reason = sig.String()
	}

	logger.Info("Shutting down", "reason", reason)

	srv.Shutdown()
	engine.Close()

	logger.Info("Worker shutdown complete")
}
