// Package realtime is the messaging core: connection registry,
// authorization guard, event dispatcher, and the websocket edge.
package realtime

import (
	"sync"
	"time"

	"roomlink/contract"
)

// Connection is the registry's record of one live device connection.
type Connection struct {
	Identity       string
	ID             string
	DeviceID       string
	ConnectedAt    time.Time
	LastActivityAt time.Time
	sink           contract.EventSink
}

// Registry tracks the set of live connections per identity. One identity
// may hold many simultaneous connections (devices, tabs); broadcasts
// addressed to an identity fan out to every one of them.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // identity -> connection id
}

func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]map[string]*Connection)}
}

// Add registers a connection and reports whether this was the identity's
// first live connection, i.e. the identity just came online.
func (r *Registry) Add(identity, connectionID, deviceID string,
	sink contract.EventSink) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.connections[identity]
	if !ok {
		conns = make(map[string]*Connection)
		r.connections[identity] = conns
	}
	now := time.Now().UTC()
	conn := &Connection{
		Identity:       identity,
		ID:             connectionID,
		DeviceID:       deviceID,
		ConnectedAt:    now,
		LastActivityAt: now,
		sink:           sink,
	}
	conns[connectionID] = conn
	return conn, len(conns) == 1
}

// Remove deregisters a connection. Removing an absent connection is a
// no-op, so duplicate disconnect signals are harmless. The second return
// value reports whether the identity's last connection just went away.
func (r *Registry) Remove(identity, connectionID string) (removed, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.connections[identity]
	if !ok {
		return false, false
	}
	if _, ok := conns[connectionID]; !ok {
		return false, false
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.connections, identity)
		return true, true
	}
	return true, false
}

// ActiveConnections lists the live connection ids of an identity.
func (r *Registry) ActiveConnections(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connections[identity]))
	for id := range r.connections[identity] {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[identity]) > 0
}

// Touch refreshes the last-activity timestamp of a connection.
func (r *Registry) Touch(identity, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[identity][connectionID]; ok {
		conn.LastActivityAt = time.Now().UTC()
	}
}

// SinksFor returns a delivery sink for every live connection of the
// identity, optionally excluding specific connection ids.
func (r *Registry) SinksFor(identity string, exclude ...string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sinks []contract.EventSink
	for id, conn := range r.connections[identity] {
		skip := false
		for _, ex := range exclude {
			if id == ex {
				skip = true
				break
			}
		}
		if !skip {
			sinks = append(sinks, conn.sink)
		}
	}
	return sinks
}
