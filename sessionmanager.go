package mcp

import (
	"context"
	"sync"
)

// SessionManager tracks every live session by ID so other components — the
// SubscriptionBus, a TaskRegistry, anything that needs to push a notification to one
// specific session rather than broadcast to all of them — can resolve an ID to a live
// Session without holding a reference that would outlive the session itself.
//
// Lookups are best-effort: Send on an ID with no registered session is silently
// discarded. A registered session whose Send fails (its transport has gone away, for
// instance) returns that error to the caller. Nothing in the protocol promises
// at-least-once delivery of server-initiated notifications.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]Session),
	}
}

func (m *SessionManager) register(sess Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID()] = sess
}

func (m *SessionManager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Lookup returns the session registered under id, and whether one was found.
func (m *SessionManager) Lookup(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Send delivers msg to the session registered under id. It returns nil, discarding the
// message, if no such session is registered — the caller (a bus publishing to a
// subscriber that has since disconnected, for instance) is not expected to treat that
// as failure.
func (m *SessionManager) Send(ctx context.Context, id string, msg JSONRPCMessage) error {
	sess, ok := m.Lookup(id)
	if !ok {
		return nil
	}
	return sess.Send(ctx, msg)
}

// Active reports whether a session is currently registered under id.
func (m *SessionManager) Active(id string) bool {
	_, ok := m.Lookup(id)
	return ok
}
