package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/Klavis-AI/playwright-mcp/internal/ipc"
)

// Supervisor spawns worker processes and performs the readiness handshake
// over the control pipes.
type Supervisor struct {
	binPath        string
	headless       bool
	startupTimeout time.Duration
	logger         *slog.Logger
}

// NewSupervisor creates a supervisor launching the given worker binary.
func NewSupervisor(binPath string, headless bool, startupTimeout time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		binPath:        binPath,
		headless:       headless,
		startupTimeout: startupTimeout,
		logger:         logger,
	}
}

// Spawn launches a worker for the instance id and blocks until the child has
// reported its bound port, it exited early, or the startup timeout elapsed.
func (s *Supervisor) Spawn(ctx context.Context, instanceID string) (Worker, error) {
	ctrl, err := ipc.NewParentEnd()
	if err != nil {
		return nil, err
	}

	// #nosec G204 - binPath comes from operator configuration, not requests
	cmd := exec.Command(s.binPath, "--instance-id", instanceID, "--port", "0")
	cmd.Env = append(os.Environ(), fmt.Sprintf("HEADLESS=%t", s.headless))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = ctrl.ChildFiles()

	if err := cmd.Start(); err != nil {
		ctrl.CloseChildFiles()
		ctrl.Close()
		return nil, fmt.Errorf("start worker process: %w", err)
	}
	ctrl.CloseChildFiles()

	done := make(chan struct{})
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil {
			s.logger.Debug("Worker process wait", "instance_id", instanceID, "error", waitErr)
		}
		ctrl.Close()
		close(done)
	}()

	proc := &workerProc{
		cmd:  cmd,
		ctrl: ctrl.Channel,
		done: done,
	}

	readyCh := make(chan ipc.Message, 1)
	readErrCh := make(chan error, 1)
	go func() {
		msg, recvErr := ctrl.Receive()
		if recvErr != nil {
			readErrCh <- recvErr
			return
		}
		readyCh <- msg
	}()

	select {
	case msg := <-readyCh:
		if msg.Type != ipc.MessageReady || msg.Port == 0 {
			proc.Kill()
			<-done
			return nil, fmt.Errorf("unexpected handshake message %q from worker %q", msg.Type, instanceID)
		}
		proc.port = msg.Port
		return proc, nil

	case <-readErrCh:
		// Pipe closed before ready: the child died during startup.
		proc.Kill()
		<-done
		return nil, fmt.Errorf("worker process for %q exited before reporting ready", instanceID)

	case <-time.After(s.startupTimeout):
		proc.Kill()
		<-done
		return nil, fmt.Errorf("worker process for %q did not report ready within %s", instanceID, s.startupTimeout)

	case <-ctx.Done():
		proc.Kill()
		<-done
		return nil, ctx.Err()
	}
}

// workerProc is the supervisor's handle on a live child process.
type workerProc struct {
	cmd  *exec.Cmd
	ctrl *ipc.Channel
	port int
	done chan struct{}
}

func (w *workerProc) Port() int {
	return w.port
}

func (w *workerProc) Done() <-chan struct{} {
	return w.done
}

// Shutdown sends the graceful shutdown control message, then kills the
// process if it has not exited within the grace period.
func (w *workerProc) Shutdown(grace time.Duration) {
	_ = w.ctrl.Send(ipc.Message{Type: ipc.MessageShutdown})

	select {
	case <-w.done:
	case <-time.After(grace):
		w.Kill()
		<-w.done
	}
}

func (w *workerProc) Kill() {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}
