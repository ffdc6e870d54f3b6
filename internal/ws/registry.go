package ws

import (
	"errors"
	"sort"
	"sync"

	"chat-broker/internal/observability"
)

var ErrDuplicateConnection = errors.New("duplicate connection")

// Registry tracks every live connection and the rooms it has joined.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register creates an entry with an empty room set.
func (r *Registry) Register(id, userID string, sink Sink, info observability.ConnIdentity) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[id]; exists {
		return nil, ErrDuplicateConnection
	}
	c := newConnection(id, userID, sink, info)
	r.conns[id] = c
	return c, nil
}

// Unregister removes the entry and returns every room the connection was in.
// From the moment it returns the connection is no longer a fan-out target and
// can join nothing. ok is false when id was not registered.
func (r *Registry) Unregister(id string) (c *Connection, rooms []string, ok bool) {
	r.mu.Lock()
	c, ok = r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	c.mu.Lock()
	c.live.Store(false)
	rooms = c.roomsLocked()
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()
	return c, rooms, true
}

// Get looks up a live registration.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the registered connection ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
