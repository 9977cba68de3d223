// Package config reads process configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort            = 5000
	defaultIdleTimeoutMs   = 3600000
	defaultReapIntervalMs  = 60000
	defaultStartupTimeout  = 30000
	defaultShutdownGraceMs = 5000
	defaultWorkerBinName   = "playwright-mcp-worker"
)

// Router holds the router process configuration.
type Router struct {
	// Port is the public listen port.
	Port int
	// Headless is passed down to every spawned worker.
	Headless bool
	// IdleTimeout is how long a worker may sit without traffic before reaping.
	IdleTimeout time.Duration
	// ReapInterval is how often the idle reaper runs.
	ReapInterval time.Duration
	// StartupTimeout bounds the worker readiness handshake.
	StartupTimeout time.Duration
	// ShutdownGrace bounds a worker's graceful exit before it is killed.
	ShutdownGrace time.Duration
	// WorkerBin is the path to the worker executable.
	WorkerBin string
}

// Worker holds the worker process configuration read from the environment.
// Instance id and port arrive via flags from the spawning router instead.
type Worker struct {
	Headless bool
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("HEADLESS", true)
	v.SetDefault("IDLE_TIMEOUT_MS", defaultIdleTimeoutMs)
	v.SetDefault("REAP_INTERVAL_MS", defaultReapIntervalMs)
	v.SetDefault("STARTUP_TIMEOUT_MS", defaultStartupTimeout)
	v.SetDefault("SHUTDOWN_GRACE_MS", defaultShutdownGraceMs)
	v.SetDefault("WORKER_BIN", "")
	return v
}

// LoadRouter reads router configuration from environment variables.
func LoadRouter() Router {
	v := newEnv()
	return Router{
		Port:           v.GetInt("PORT"),
		Headless:       v.GetBool("HEADLESS"),
		IdleTimeout:    time.Duration(v.GetInt("IDLE_TIMEOUT_MS")) * time.Millisecond,
		ReapInterval:   time.Duration(v.GetInt("REAP_INTERVAL_MS")) * time.Millisecond,
		StartupTimeout: time.Duration(v.GetInt("STARTUP_TIMEOUT_MS")) * time.Millisecond,
		ShutdownGrace:  time.Duration(v.GetInt("SHUTDOWN_GRACE_MS")) * time.Millisecond,
		WorkerBin:      resolveWorkerBin(v.GetString("WORKER_BIN")),
	}
}

// LoadWorker reads worker configuration from environment variables.
func LoadWorker() Worker {
	v := newEnv()
	return Worker{
		Headless: v.GetBool("HEADLESS"),
	}
}

// resolveWorkerBin falls back to a worker binary sitting next to the router
// executable when no explicit path is configured.
func resolveWorkerBin(configured string) string {
	if configured != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return defaultWorkerBinName
	}
	return filepath.Join(filepath.Dir(exe), defaultWorkerBinName)
}
