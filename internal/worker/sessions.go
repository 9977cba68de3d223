package worker

import "sync"

// sessionTracker records the MCP session ids currently open on this worker.
// The SSE transport allocates the ids; the tracker only mirrors them so the
// HTTP layer can 404 messages for sessions that are already gone and report
// an open count on /health.
type sessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		sessions: make(map[string]struct{}),
	}
}

func (t *sessionTracker) Add(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = struct{}{}
}

func (t *sessionTracker) Remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (t *sessionTracker) Has(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

func (t *sessionTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
