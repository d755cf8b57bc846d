package execution

import "sync"

// sessionLocks is the in-process single-flight guard: at most one
// orchestration run per session id at a time. The store-level conditional
// status update remains the second line of defence for multi-process
// deployments.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		active: make(map[string]struct{}),
	}
}

// acquire returns false when the session is already being executed.
func (l *sessionLocks) acquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[sessionID]; held {
		return false
	}
	l.active[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, sessionID)
}
