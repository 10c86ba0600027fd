package mcp

import "sync"

// SessionRegistry maps dialog IDs to MCP session IDs. Populated when a
// session starts or resumes a dialog, so push notifications reach the agent
// driving it.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // dialogID -> sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a dialog with a session. A reconnecting session
// overwrites the previous mapping.
func (r *SessionRegistry) Register(dialogID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[dialogID] = sessionID
}

// SessionFor returns the session driving the given dialog, if any.
func (r *SessionRegistry) SessionFor(dialogID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[dialogID]
	return sid, ok
}

// Remove deletes all dialog mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for did, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, did)
		}
	}
}
