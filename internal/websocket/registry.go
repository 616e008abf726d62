package websocket

import (
	"log"
	"sync"

	"proctord/pkg/types"
)

// Registry tracks the live connection per session and delivers actor
// notices to it. At most one connection serves a session; a reconnect
// replaces the old one. Delivery is best-effort: a session with no
// connection simply misses the notice, and the state machine does not care.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register attaches a connection to its session, closing any previous one.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	previous := r.connections[conn.SessionID()]
	r.connections[conn.SessionID()] = conn
	r.mu.Unlock()

	if previous != nil {
		log.Printf("Session %s: replacing existing connection", conn.SessionID())
		previous.Close()
	}
}

// Unregister detaches a connection if it is still the current one for its
// session. A stale connection from before a reconnect is left alone.
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	if r.connections[conn.SessionID()] == conn {
		delete(r.connections, conn.SessionID())
	}
	r.mu.Unlock()
}

// NotifyCalibration delivers a calibration outcome.
func (r *Registry) NotifyCalibration(sessionID string, result *types.CalibrationResult) {
	r.send(sessionID, result)
}

// NotifyViolation delivers a violation warning.
func (r *Registry) NotifyViolation(sessionID string, notice *types.ViolationNotice) {
	r.send(sessionID, notice)
}

// NotifyTermination delivers the final notice before the socket closes.
func (r *Registry) NotifyTermination(sessionID string, notice *types.TerminationNotice) {
	r.send(sessionID, notice)
}

// NotifyStatus delivers a heartbeat status snapshot.
func (r *Registry) NotifyStatus(sessionID string, notice *types.StatusNotice) {
	r.send(sessionID, notice)
}

// CloseSession closes and drops the session's connection, if any.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	conn := r.connections[sessionID]
	delete(r.connections, sessionID)
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Shutdown closes every connection.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range connections {
		conn.Close()
	}
}

func (r *Registry) send(sessionID string, v interface{}) {
	r.mu.RLock()
	conn := r.connections[sessionID]
	r.mu.RUnlock()

	if conn == nil {
		return
	}
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("Session %s: notice delivery failed: %v", sessionID, err)
	}
}
