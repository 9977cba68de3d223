package router

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeFakeWorker writes a shell script that speaks the control-channel
// protocol: report ready on fd 4, then block until the shutdown message
// arrives on fd 3.
func writeFakeWorker(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script worker stand-in requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("Failed to write fake worker: %v", err)
	}
	return path
}

func TestSupervisor_SpawnHandshake(t *testing.T) {
	bin := writeFakeWorker(t, `
echo "{\"type\":\"ready\",\"port\":45678,\"instance_id\":\"$2\"}" >&4
read line <&3
exit 0
`)

	sup := NewSupervisor(bin, true, 5*time.Second, testLogger())

	worker, err := sup.Spawn(context.Background(), "tenant-42")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if worker.Port() != 45678 {
		t.Errorf("Expected reported port 45678, got %d", worker.Port())
	}

	select {
	case <-worker.Done():
		t.Fatal("Worker exited before shutdown was requested")
	default:
	}

	// Graceful shutdown: the script exits on the control message, well
	// within the grace period.
	done := make(chan struct{})
	go func() {
		worker.Shutdown(3 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not complete")
	}

	select {
	case <-worker.Done():
	default:
		t.Error("Expected Done to be closed after shutdown")
	}
}

func TestSupervisor_SpawnEarlyExit(t *testing.T) {
	bin := writeFakeWorker(t, "exit 1\n")

	sup := NewSupervisor(bin, true, 5*time.Second, testLogger())

	if _, err := sup.Spawn(context.Background(), "tenant-42"); err == nil {
		t.Fatal("Expected error when worker exits before reporting ready")
	}
}

func TestSupervisor_SpawnTimeout(t *testing.T) {
	bin := writeFakeWorker(t, "sleep 30\n")

	sup := NewSupervisor(bin, true, 200*time.Millisecond, testLogger())

	start := time.Now()
	_, err := sup.Spawn(context.Background(), "tenant-42")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Spawn took %s, expected prompt timeout", elapsed)
	}
}

func TestSupervisor_SpawnMissingBinary(t *testing.T) {
	sup := NewSupervisor("/nonexistent/worker-binary", true, time.Second, testLogger())

	if _, err := sup.Spawn(context.Background(), "tenant-42"); err == nil {
		t.Fatal("Expected error for missing binary")
	}
}

func TestSupervisor_ForcedKillAfterGrace(t *testing.T) {
	// This worker ignores the shutdown message entirely.
	bin := writeFakeWorker(t, `
echo "{\"type\":\"ready\",\"port\":45678}" >&4
sleep 30
`)

	sup := NewSupervisor(bin, true, 5*time.Second, testLogger())

	worker, err := sup.Spawn(context.Background(), "tenant-42")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	start := time.Now()
	worker.Shutdown(200 * time.Millisecond)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Forced kill took %s", elapsed)
	}

	select {
	case <-worker.Done():
	default:
		t.Error("Expected Done to be closed after kill")
	}
}
