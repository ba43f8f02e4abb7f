package session

import (
	"fmt"
	"sync"
)

// Registry is the process-wide collection of live sessions, indexed by
// session id. Ids are assigned monotonically and never reused while the
// process lives. A single mutex guards the map; lookups never observe a
// partially inserted or removed entry, and bulk operations iterate a
// snapshot so concurrent connects/disconnects cannot corrupt iteration.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint64]*Session)}
}

// NextID reserves the next session id.
func (r *Registry) NextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Add registers a session. A duplicate id means the registry is corrupt;
// that is a programming error and is returned loudly, never swallowed.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return fmt.Errorf("registry corruption: duplicate session id %d", s.id)
	}
	r.sessions[s.id] = s
	s.registry = r
	return nil
}

// Remove unregisters a session. Removing an absent session is a no-op so
// teardown stays idempotent.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.id)
}

// Get looks up a session by id.
func (r *Registry) Get(id uint64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// FromAccount returns the sessions linked to an account.
func (r *Registry) FromAccount(a *Account) []*Session {
	var out []*Session
	for _, s := range r.All() {
		if s.Account() == a {
			out = append(out, s)
		}
	}
	return out
}

// FromObject returns the sessions puppeting an object.
func (r *Registry) FromObject(o *Object) []*Session {
	var out []*Session
	for _, s := range r.All() {
		if s.Puppet() == o {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live sessions. With includeUnauth false,
// only authenticated sessions are counted.
func (r *Registry) Count(includeUnauth bool) int {
	n := 0
	for _, s := range r.All() {
		if includeUnauth || s.LoggedIn() {
			n++
		}
	}
	return n
}

// AnnounceAll sends a message to every live session (server-wide
// broadcast, e.g. shutdown notices).
func (r *Registry) AnnounceAll(text string) {
	for _, s := range r.All() {
		s.DataOut(text, nil)
	}
}

// DisconnectAll disconnects every live session with the given reason.
func (r *Registry) DisconnectAll(reason string) {
	for _, s := range r.All() {
		s.Disconnect(reason)
	}
}
