package session

import (
	"context"
	"sync"
	"time"
)

// Tracker holds session state in memory, keyed by an opaque session id.
//
// Sessions are independent: the tracker serializes access to its map but
// never orders one session's requests against another's. Expired ceremony
// windows are closed by Sweep, which the app server runs periodically.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]State
	ttl      time.Duration
	clock    func() time.Time
}

// NewTracker creates a tracker whose ceremony windows expire after ttl.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		sessions: make(map[string]State),
		ttl:      ttl,
		clock:    time.Now,
	}
}

// Load returns a copy of the session state, expiring stale ceremonies.
func (t *Tracker) Load(sessionID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.sessions[sessionID]
	state.ExpireCeremony(t.clock(), t.ttl)
	return state
}

// Save stores the session state, dropping sessions with nothing left.
func (t *Tracker) Save(sessionID string, state State) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if state.Empty() {
		delete(t.sessions, sessionID)
		return
	}
	t.sessions[sessionID] = state
}

// Sweep closes expired ceremony windows and drops empty sessions.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sessionID, state := range t.sessions {
		state.ExpireCeremony(now, t.ttl)
		if state.Empty() {
			delete(t.sessions, sessionID)
			continue
		}
		t.sessions[sessionID] = state
	}
}

// StartCleanup sweeps on the given interval until the context ends.
func (t *Tracker) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.Sweep(now)
			}
		}
	}()
}
