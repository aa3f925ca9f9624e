package relay

import "sync"

// Registry holds the delivery groups: for each user, the set of that user's
// live sessions. The group is the sole addressing unit; joining is idempotent
// and every additional connection from the same user lands in the same group
// without any separate session bookkeeping.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.UserID] == nil {
		r.sessions[s.UserID] = make(map[string]*Session)
	}
	r.sessions[s.UserID][s.ID] = s
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group, ok := r.sessions[s.UserID]; ok {
		// Only remove the same session object; a late Remove from an
		// already-replaced connection must not evict a newer one.
		if current, ok := group[s.ID]; ok && current == s {
			delete(group, s.ID)
			if len(group) == 0 {
				delete(r.sessions, s.UserID)
			}
		}
	}
}

// GroupSessions returns the sessions in userID's delivery group.
func (r *Registry) GroupSessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.sessions[userID] {
		result = append(result, s)
	}
	return result
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, group := range r.sessions {
		for _, s := range group {
			s.Close()
		}
	}
}
