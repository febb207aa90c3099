package player

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Registry maps guilds to their live sessions. Creation is atomic per call:
// the lock is held across the connect function, so two concurrent requests
// for the same guild never open two voice connections.
type Registry struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[snowflake.ID]*Session)}
}

// GetOrCreate returns the live session for key, creating one via connect if
// none exists. A session that already went terminal counts as absent and is
// replaced.
func (r *Registry) GetOrCreate(key snowflake.ID, connect func() (Sink, error), cfg Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok && s.State() != StateDisconnected {
		return s, nil
	}
	sink, err := connect()
	if err != nil {
		return nil, err
	}
	s := NewSession(key, sink, cfg)
	s.onClose = func(closed *Session) { r.remove(key, closed) }
	r.sessions[key] = s
	return s, nil
}

// Get returns the live session for key. Terminal sessions are hidden; callers
// see ErrNoActiveSession rather than a dead handle.
func (r *Registry) Get(key snowflake.ID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok || s.State() == StateDisconnected {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

// remove deletes the mapping for key, but only if it still points at s. A
// newer session created under the same key after s closed must survive.
func (r *Registry) remove(key snowflake.ID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; ok && cur == s {
		delete(r.sessions, key)
	}
}

// Sweep disconnects sessions whose sink silently lost its connection and
// drops terminal leftovers. Returns how many sessions were force-closed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var stale []*Session
	for key, s := range r.sessions {
		if s.State() == StateDisconnected {
			delete(r.sessions, key)
			continue
		}
		if !s.sink.IsConnected() {
			stale = append(stale, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Disconnect()
	}
	return len(stale)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown disconnects every session and waits for their teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Disconnect()
	}
	for _, s := range all {
		<-s.Done()
	}
}
