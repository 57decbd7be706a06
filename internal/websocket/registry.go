package websocket

import (
	"slices"
	"strings"
	"sync"

	"habitat/pkg/interfaces"
)

// Registry tracks live connections and the session each one has joined.
// It holds no game state.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connID -> Connection
	sessions    map[string]map[string]*Connection // sessionID -> connID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
	}
}

// Register adds a connection that has not joined a session yet. A previous
// connection with the same id is closed asynchronously.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.GetConnID() == "" {
		return ErrMissingConnID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.GetConnID()
	if existing, ok := r.connections[connID]; ok && existing != conn {
		r.unbindLocked(existing)
		go func() { _ = existing.Close() }()
	}
	r.connections[connID] = conn
	if sessionID := conn.GetSessionID(); sessionID != "" {
		r.bindLocked(conn, sessionID)
	}
	return nil
}

// Unregister removes conn. It is idempotent and leaves a newer connection
// registered under the same id untouched.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.connections[conn.GetConnID()]
	if !ok || registered != conn {
		return
	}
	r.unbindLocked(conn)
	delete(r.connections, conn.GetConnID())
}

// Bind attaches a connection to a session, leaving any previous one.
func (r *Registry) Bind(connID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return ErrConnectionNotRegistered
	}
	r.unbindLocked(conn)
	r.bindLocked(conn, sessionID)
	return nil
}

// Unbind detaches a connection from its session. The connection stays
// registered.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[connID]; ok {
		r.unbindLocked(conn)
	}
}

func (r *Registry) bindLocked(conn *Connection, sessionID string) {
	conn.setSessionID(sessionID)
	members := r.sessions[sessionID]
	if members == nil {
		members = make(map[string]*Connection)
		r.sessions[sessionID] = members
	}
	members[conn.GetConnID()] = conn
}

func (r *Registry) unbindLocked(conn *Connection) {
	sessionID := conn.GetSessionID()
	if sessionID == "" {
		return
	}
	if members, ok := r.sessions[sessionID]; ok {
		if members[conn.GetConnID()] == conn {
			delete(members, conn.GetConnID())
		}
		if len(members) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	conn.setSessionID("")
}

// Lookup returns the concrete connection registered under connID.
func (r *Registry) Lookup(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	return conn, ok
}

// GetConnection returns the connection registered under connID.
func (r *Registry) GetConnection(connID string) (interfaces.Connection, bool) {
	conn, ok := r.Lookup(connID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// GetSessionConnections returns the connections bound to a session, ordered
// by connection id.
func (r *Registry) GetSessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.sessions[sessionID]))
	for _, conn := range r.sessions[sessionID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	slices.SortFunc(members, func(a, b *Connection) int {
		return strings.Compare(a.GetConnID(), b.GetConnID())
	})
	out := make([]interfaces.Connection, len(members))
	for i, conn := range members {
		out[i] = conn
	}
	return out
}

// GetStats returns registry counters for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := 0
	for _, members := range r.sessions {
		bound += len(members)
	}
	return map[string]int{
		"total_connections": len(r.connections),
		"bound_connections": bound,
		"active_sessions":   len(r.sessions),
	}
}

// CloseAll closes every registered connection and returns how many there
// were. Read pumps notice the close and unregister themselves.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
