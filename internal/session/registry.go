package session

import (
	"log"
	"sync"

	"chatrelay/pkg/interfaces"
)

// entry binds a live connection to its identified user, if any.
type entry struct {
	conn   interfaces.ClientSession
	userID string
}

// Registry tracks live sessions and the user -> session presence mapping.
// ARCHITECTURAL DISCOVERY: A user holds at most one session; a newer
// identification silently supersedes the older session's mapping
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]*entry
	byUser    map[string]string // userID -> sessionID
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]*entry),
		byUser:    make(map[string]string),
	}
}

// Add records a connected but not yet identified session.
func (r *Registry) Add(conn interfaces.ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySession[conn.SessionID()] = &entry{conn: conn}
	log.Printf("Session added: %s (total: %d)", conn.SessionID(), len(r.bySession))
}

// Identify binds a user to a session, evicting any prior session mapping
// for that user. The superseded session stays connected; it simply stops
// being the user's delivery target.
func (r *Registry) Identify(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bySession[sessionID]
	if !ok {
		log.Printf("Identify for unknown session %s ignored", sessionID)
		return
	}

	if prior, exists := r.byUser[userID]; exists && prior != sessionID {
		// FUNCTIONAL DISCOVERY: Silent eviction; the old session gets no
		// notification and its eventual disconnect must not mark the user offline
		if old, ok := r.bySession[prior]; ok {
			old.userID = ""
		}
		log.Printf("User %s remapped from session %s to %s", userID, prior, sessionID)
	}

	e.userID = userID
	r.byUser[userID] = sessionID
}

// Remove drops a session and returns the user it represented, if the
// session was still that user's current one.
func (r *Registry) Remove(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.bySession[sessionID]
	if !ok {
		return "", false
	}
	delete(r.bySession, sessionID)

	if e.userID == "" {
		return "", false
	}

	// TECHNICAL DISCOVERY: Only clear the user mapping when it still points
	// back at this session; a superseded session must not erase its
	// successor's presence
	if current, exists := r.byUser[e.userID]; exists && current == sessionID {
		delete(r.byUser, e.userID)
		return e.userID, true
	}

	return "", false
}

// ClearUser removes a user's presence mapping without dropping the session,
// for explicit sign-off while the socket stays open. Returns false when the
// user's current session is not the given one.
func (r *Registry) ClearUser(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.byUser[userID]
	if !exists || current != sessionID {
		return false
	}

	delete(r.byUser, userID)
	if e, ok := r.bySession[sessionID]; ok {
		e.userID = ""
	}
	return true
}

// Resolve returns the live connection for a user, if one exists.
func (r *Registry) Resolve(userID string) (interfaces.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	e, ok := r.bySession[sessionID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Snapshot returns every live connection for fan-out.
func (r *Registry) Snapshot() []interfaces.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.ClientSession, 0, len(r.bySession))
	for _, e := range r.bySession {
		conns = append(conns, e.conn)
	}
	return conns
}

// OnlineUsers returns the IDs of currently identified users.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// Stats reports registry state for health checks.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"sessions":         len(r.bySession),
		"identified_users": len(r.byUser),
	}
}
