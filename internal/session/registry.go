package session

import "sync"

// Registry is the lock-protected client registry (spec.md 3/5): an ordered
// collection traversable from both the accept goroutine and any VM thread
// firing a break. Generalizes the teacher's bare package-level ConnList
// (main.go) into its own type with a lock, since spec.md 5 requires the
// registry be safely walkable from both sides.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.sessions {
		if cur == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return
		}
	}
}

// Each calls fn for every registered session. It walks a snapshot taken
// under the lock and calls fn with the lock released, so fn may call Add or
// Remove; such changes do not affect the walk in progress.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.Lock()
	snapshot := make([]*Session, len(r.sessions))
	copy(snapshot, r.sessions)
	r.mu.Unlock()
	for _, s := range snapshot {
		fn(s)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
