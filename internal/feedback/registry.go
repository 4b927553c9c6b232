package feedback

import (
	"sort"
	"sync"
)

// Registry tracks sessions for runs that are still in flight.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func registryKey(chatID, messageID string) string {
	return chatID + "/" + messageID
}

// Add registers s, replacing any session for the same message.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[registryKey(s.chatID, s.messageID)] = s
}

// Remove drops the session for the given message. Timers already armed keep
// running.
func (r *Registry) Remove(chatID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, registryKey(chatID, messageID))
}

// Get returns the session for the given message, if tracked.
func (r *Registry) Get(chatID, messageID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[registryKey(chatID, messageID)]
	return s, ok
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a snapshot of every tracked session ordered by chat and
// message.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
