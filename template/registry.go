package template

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-set/v3"
)

// SessionRegistry maps a session id to the set of template names registered
// under it (spec.md §3), letting external callers enumerate grouped
// templates for GET /sessions and GET /jobs/<sid>.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*set.Set[string]
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*set.Set[string])}
}

// Add records name under session. Idempotent.
func (r *SessionRegistry) Add(session, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, ok := r.sessions[session]
	if !ok {
		names = set.New[string](4)
		r.sessions[session] = names
	}
	names.Insert(name)
}

// Remove drops name from session, removing the session entirely once empty.
func (r *SessionRegistry) Remove(session, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, ok := r.sessions[session]
	if !ok {
		return
	}
	names.Remove(name)
	if names.Empty() {
		delete(r.sessions, session)
	}
}

// Sessions returns every known session id, sorted.
func (r *SessionRegistry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Names returns the sorted template names registered under session.
func (r *SessionRegistry) Names(session string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names, ok := r.sessions[session]
	if !ok {
		return nil
	}
	out := names.Slice()
	sort.Strings(out)
	return out
}
