package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInstanceID is the bucket for requests carrying no instance header.
const DefaultInstanceID = "default"

// Worker is the registry's view of a live worker process. Implemented by the
// supervisor's process handle and by test fakes.
type Worker interface {
	// Port is the loopback port the worker's HTTP server bound to.
	Port() int
	// Done is closed once the process has exited, for any reason.
	Done() <-chan struct{}
	// Shutdown requests a graceful exit and kills the process if it has not
	// exited within the grace period. Blocks until the exit is observed.
	Shutdown(grace time.Duration)
	// Kill terminates the process immediately.
	Kill()
}

// Spawner launches a worker process for an instance id, blocking until the
// worker has reported readiness or failed.
type Spawner interface {
	Spawn(ctx context.Context, instanceID string) (Worker, error)
}

// WorkerRecord tracks one instance id's worker, from pending through ready to
// removed. All mutable fields are guarded by the owning registry's mutex.
type WorkerRecord struct {
	InstanceID string

	worker       Worker
	lastActivity time.Time
	isReady      bool

	// ready is closed when the spawn resolves; spawnErr is set first on failure.
	ready    chan struct{}
	spawnErr error
}

// Port returns the worker's loopback port. Valid only once ready.
func (rec *WorkerRecord) Port() int {
	return rec.worker.Port()
}

// Registry owns the instance id to worker map. All lifecycle transitions
// (insert pending, promote to ready, remove on exit) go through it, which is
// what enforces single-flight spawning per id.
type Registry struct {
	mu      sync.Mutex
	records map[string]*WorkerRecord

	spawner Spawner
	logger  *slog.Logger
}

// NewRegistry creates a registry backed by the given spawner.
func NewRegistry(spawner Spawner, logger *slog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*WorkerRecord),
		spawner: spawner,
		logger:  logger,
	}
}

// Resolve returns the ready worker record for an instance id, spawning one if
// needed. Concurrent calls for the same new id converge on a single spawn:
// the pending record is registered under the lock before any process work
// starts, and later callers wait on it instead of spawning again.
func (r *Registry) Resolve(ctx context.Context, instanceID string) (*WorkerRecord, error) {
	if instanceID == "" {
		instanceID = DefaultInstanceID
	}

	r.mu.Lock()
	if rec, ok := r.records[instanceID]; ok {
		if rec.isReady {
			rec.lastActivity = time.Now()
		}
		r.mu.Unlock()
		return r.await(ctx, rec)
	}

	rec := &WorkerRecord{
		InstanceID: instanceID,
		ready:      make(chan struct{}),
	}
	r.records[instanceID] = rec
	r.mu.Unlock()

	// Spawn outside the lock; waiters (and this caller) block on rec.ready.
	// The spawner applies its own startup timeout, so a canceled first client
	// does not abort the spawn other callers are waiting on.
	go r.spawn(rec)

	return r.await(ctx, rec)
}

func (r *Registry) spawn(rec *WorkerRecord) {
	r.logger.Info("Spawning worker", "instance_id", rec.InstanceID)

	worker, err := r.spawner.Spawn(context.Background(), rec.InstanceID)

	r.mu.Lock()
	if err != nil {
		rec.spawnErr = err
		// Clear the in-flight entry so the next request retries cleanly.
		if r.records[rec.InstanceID] == rec {
			delete(r.records, rec.InstanceID)
		}
		r.mu.Unlock()
		close(rec.ready)
		r.logger.Error("Worker spawn failed", "instance_id", rec.InstanceID, "error", err)
		return
	}

	rec.worker = worker
	rec.isReady = true
	rec.lastActivity = time.Now()
	r.mu.Unlock()
	close(rec.ready)

	r.logger.Info("Worker ready", "instance_id", rec.InstanceID, "port", worker.Port())

	// Whatever kills the process (idle reap, crash, OS), the exit observation
	// is the single place the record is removed.
	go func() {
		<-worker.Done()
		r.remove(rec)
		r.logger.Info("Worker exited", "instance_id", rec.InstanceID)
	}()
}

func (r *Registry) await(ctx context.Context, rec *WorkerRecord) (*WorkerRecord, error) {
	select {
	case <-rec.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if rec.spawnErr != nil {
		return nil, fmt.Errorf("worker for %q: %w", rec.InstanceID, rec.spawnErr)
	}
	return rec, nil
}

// remove drops a record, but only if it is still the current one for its id.
// A fresh worker may already have been spawned for the same id.
func (r *Registry) remove(rec *WorkerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.InstanceID] == rec {
		delete(r.records, rec.InstanceID)
	}
}

// Touch refreshes a record's activity timestamp after a proxied request.
func (r *Registry) Touch(rec *WorkerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.isReady {
		rec.lastActivity = time.Now()
	}
}

// WorkerInfo is a point-in-time snapshot of one record for diagnostics.
type WorkerInfo struct {
	InstanceID  string  `json:"instance_id"`
	Port        int     `json:"port"`
	Ready       bool    `json:"ready"`
	IdleSeconds float64 `json:"idle_seconds"`
}

// Snapshot reports all records for the diagnostics endpoint.
func (r *Registry) Snapshot() []WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	infos := make([]WorkerInfo, 0, len(r.records))
	for _, rec := range r.records {
		info := WorkerInfo{
			InstanceID: rec.InstanceID,
			Ready:      rec.isReady,
		}
		if rec.isReady {
			info.Port = rec.worker.Port()
			info.IdleSeconds = now.Sub(rec.lastActivity).Seconds()
		}
		infos = append(infos, info)
	}
	return infos
}

// Len returns the number of records, ready or pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ReapIdle terminates every ready worker idle longer than the threshold.
// Returns the number of workers reaped. Record removal happens through the
// exit observer, not here.
func (r *Registry) ReapIdle(threshold, grace time.Duration) int {
	r.mu.Lock()
	now := time.Now()
	var idle []*WorkerRecord
	for _, rec := range r.records {
		if rec.isReady && now.Sub(rec.lastActivity) > threshold {
			idle = append(idle, rec)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range idle {
		wg.Add(1)
		go func(rec *WorkerRecord) {
			defer wg.Done()
			r.logger.Info("Reaping idle worker", "instance_id", rec.InstanceID)
			rec.worker.Shutdown(grace)
		}(rec)
	}
	wg.Wait()

	return len(idle)
}

// StartReaper runs the idle reap loop until the context is canceled.
func (r *Registry) StartReaper(ctx context.Context, interval, threshold, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if reaped := r.ReapIdle(threshold, grace); reaped > 0 {
				r.logger.Info("Reaped idle workers", "count", reaped)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ShutdownAll terminates every ready worker concurrently, graceful then
// forced, and blocks until all exits are observed.
func (r *Registry) ShutdownAll(grace time.Duration) {
	r.mu.Lock()
	var live []*WorkerRecord
	for _, rec := range r.records {
		if rec.isReady {
			live = append(live, rec)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range live {
		wg.Add(1)
		go func(rec *WorkerRecord) {
			defer wg.Done()
			rec.worker.Shutdown(grace)
		}(rec)
	}
	wg.Wait()
}
