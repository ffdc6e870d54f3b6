package ws

import (
	"sort"
	"sync"
	"sync/atomic"

	"chat-broker/internal/observability"
)

// Sink is the outbound half of a transport. Send must not block: it reports
// false when the frame cannot be queued.
type Sink interface {
	Send(frame []byte) bool
	Close() error
}

// Connection is a registry entry: one live transport bound to one user.
type Connection struct {
	id     string
	userID string
	sink   Sink
	info   observability.ConnIdentity

	live atomic.Bool

	// mu guards rooms and orders join/leave against unregister.
	mu    sync.Mutex
	rooms map[string]struct{}
}

func newConnection(id, userID string, sink Sink, info observability.ConnIdentity) *Connection {
	c := &Connection{
		id:     id,
		userID: userID,
		sink:   sink,
		info:   info,
		rooms:  make(map[string]struct{}),
	}
	c.info.ConnID = id
	c.info.UserID = userID
	c.live.Store(true)
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Live reports whether the connection is still a valid fan-out target.
func (c *Connection) Live() bool { return c.live.Load() }

// Rooms returns the rooms the connection has joined, sorted.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Connection) roomsLocked() []string {
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// deliver queues a frame. A refused frame marks the connection dead so no
// later fan-out targets it; the caller schedules the cleanup.
func (c *Connection) deliver(frame []byte) bool {
	if !c.Live() {
		return false
	}
	if c.sink.Send(frame) {
		return true
	}
	c.live.Store(false)
	return false
}
