package rooms

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// ErrRoomNotFound is returned by PublishStamped when the room has no members.
var ErrRoomNotFound = errors.New("room not found")

// Member is a connection that can sit in a room.
type Member interface {
	ID() string
	Live() bool
}

type room struct {
	mu      sync.Mutex
	members map[string]Member
	// clock is the last stamp or join watermark handed out for this room.
	clock   time.Time
	dropped bool
}

type shard struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// Table maps room ids to the connections currently joined to them.
// Every room is serialized by its own lock; rooms in different shards never
// contend, and rooms in the same shard only share the brief lookup lock.
type Table struct {
	shards [shardCount]shard
	count  atomic.Int64
}

// NewTable creates an empty membership table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].rooms = make(map[string]*room)
	}
	return t
}

func (t *Table) shardFor(roomID string) *shard {
	return &t.shards[xxhash.Sum64String(roomID)%shardCount]
}

// lockRoom returns the locked entry for roomID, creating it when create is set.
// It returns nil when the room does not exist and create is false.
func (t *Table) lockRoom(roomID string, create bool) *room {
	s := t.shardFor(roomID)
	for {
		s.mu.Lock()
		r, ok := s.rooms[roomID]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil
			}
			r = &room{members: make(map[string]Member)}
			s.rooms[roomID] = r
			t.count.Add(1)
		}
		s.mu.Unlock()

		r.mu.Lock()
		if !r.dropped {
			return r
		}
		// Dropped between lookup and lock; the shard no longer holds it.
		r.mu.Unlock()
	}
}

// Join adds m to the room and returns the join watermark: every stamp issued
// for the room afterwards is strictly later. Joining twice is a no-op apart
// from issuing a fresh watermark. onJoined, when set, runs under the room lock
// so nothing published after the join can be delivered ahead of it.
func (t *Table) Join(roomID string, m Member, now time.Time, onJoined func(watermark time.Time)) time.Time {
	r := t.lockRoom(roomID, true)
	defer r.mu.Unlock()

	r.members[m.ID()] = m
	watermark := now.UTC().Truncate(time.Microsecond)
	if watermark.Before(r.clock) {
		watermark = r.clock
	}
	r.clock = watermark
	if onJoined != nil {
		onJoined(watermark)
	}
	return watermark
}

// Leave removes connID from the room and drops the room once it is empty.
// It reports whether connID was a member.
func (t *Table) Leave(roomID, connID string) bool {
	r := t.lockRoom(roomID, false)
	if r == nil {
		return false
	}
	_, found := r.members[connID]
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		t.dropIfEmpty(roomID, r)
	}
	return found
}

func (t *Table) dropIfEmpty(roomID string, r *room) {
	s := t.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dropped || len(r.members) != 0 || s.rooms[roomID] != r {
		return
	}
	r.dropped = true
	delete(s.rooms, roomID)
	t.count.Add(-1)
}

// MembersOf returns a sorted snapshot of the live connection ids in the room.
func (t *Table) MembersOf(roomID string) []string {
	r := t.lockRoom(roomID, false)
	if r == nil {
		return nil
	}
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.members))
	for id, m := range r.members {
		if m.Live() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Publish runs fn with the room locked and its live members. It returns false
// without calling fn when the room has no members.
func (t *Table) Publish(roomID string, fn func(members []Member)) bool {
	r := t.lockRoom(roomID, false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	fn(r.liveMembers())
	return true
}

// PublishStamped is Publish for events that need an ordering stamp. The stamp
// is strictly after every previous stamp and join watermark of the room; it is
// only consumed when fn succeeds.
func (t *Table) PublishStamped(roomID string, now time.Time, fn func(stamp time.Time, members []Member) error) error {
	r := t.lockRoom(roomID, false)
	if r == nil {
		return ErrRoomNotFound
	}
	defer r.mu.Unlock()

	stamp := now.UTC().Truncate(time.Microsecond)
	if !stamp.After(r.clock) {
		stamp = r.clock.Add(time.Microsecond)
	}
	if err := fn(stamp, r.liveMembers()); err != nil {
		return err
	}
	r.clock = stamp
	return nil
}

// Rooms returns the number of rooms with at least one member.
func (t *Table) Rooms() int {
	return int(t.count.Load())
}

func (r *room) liveMembers() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		if m.Live() {
			out = append(out, m)
		}
	}
	return out
}
