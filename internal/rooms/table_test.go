package rooms

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMember struct {
	id   string
	dead atomic.Bool
}

func (m *testMember) ID() string { return m.id }
func (m *testMember) Live() bool { return !m.dead.Load() }

func member(id string) *testMember { return &testMember{id: id} }

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestJoinIsIdempotent(t *testing.T) {
	table := NewTable()
	c := member("c1")

	table.Join("A_B", c, t0, nil)
	once := table.MembersOf("A_B")
	table.Join("A_B", c, t0, nil)

	assert.Equal(t, once, table.MembersOf("A_B"))
	assert.Equal(t, []string{"c1"}, once)
	assert.Equal(t, 1, table.Rooms())
}

func TestLeaveDropsEmptyRoom(t *testing.T) {
	table := NewTable()
	table.Join("r", member("c1"), t0, nil)
	table.Join("r", member("c2"), t0, nil)

	assert.True(t, table.Leave("r", "c1"))
	assert.Equal(t, []string{"c2"}, table.MembersOf("r"))
	assert.True(t, table.Leave("r", "c2"))
	assert.Empty(t, table.MembersOf("r"))
	assert.Equal(t, 0, table.Rooms())

	assert.False(t, table.Leave("r", "c2"))
	assert.False(t, table.Leave("missing", "c1"))
}

func TestMembersOfSkipsDeadMembers(t *testing.T) {
	table := NewTable()
	alive, dead := member("a"), member("b")
	table.Join("r", alive, t0, nil)
	table.Join("r", dead, t0, nil)
	dead.dead.Store(true)

	assert.Equal(t, []string{"a"}, table.MembersOf("r"))

	var seen []string
	table.Publish("r", func(members []Member) {
		for _, m := range members {
			seen = append(seen, m.ID())
		}
	})
	assert.Equal(t, []string{"a"}, seen)
}

func TestPublishOnEmptyRoomIsNoop(t *testing.T) {
	table := NewTable()
	called := false
	assert.False(t, table.Publish("nobody", func([]Member) { called = true }))
	assert.False(t, called)

	err := table.PublishStamped("nobody", t0, func(time.Time, []Member) error { return nil })
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestStampsAreStrictlyIncreasing(t *testing.T) {
	table := NewTable()
	table.Join("r", member("c1"), t0, nil)

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		// Same wall clock every time; the room clock must still advance.
		err := table.PublishStamped("r", t0, func(stamp time.Time, _ []Member) error {
			stamps = append(stamps, stamp)
			return nil
		})
		require.NoError(t, err)
	}
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].After(stamps[i-1]))
	}
}

func TestFailedPublishDoesNotConsumeStamp(t *testing.T) {
	table := NewTable()
	table.Join("r", member("c1"), t0, nil)

	var failed, next time.Time
	err := table.PublishStamped("r", t0, func(stamp time.Time, _ []Member) error {
		failed = stamp
		return errors.New("store down")
	})
	require.Error(t, err)
	require.NoError(t, table.PublishStamped("r", t0, func(stamp time.Time, _ []Member) error {
		next = stamp
		return nil
	}))
	assert.Equal(t, failed, next)
}

func TestJoinWatermarkPrecedesLaterStamps(t *testing.T) {
	table := NewTable()
	table.Join("r", member("a"), t0, nil)
	var first time.Time
	require.NoError(t, table.PublishStamped("r", t0.Add(time.Second), func(stamp time.Time, _ []Member) error {
		first = stamp
		return nil
	}))

	// A join whose wall clock lags the room clock must not go backwards.
	watermark := table.Join("r", member("b"), t0, nil)
	assert.False(t, watermark.Before(first))

	var next time.Time
	require.NoError(t, table.PublishStamped("r", t0, func(stamp time.Time, _ []Member) error {
		next = stamp
		return nil
	}))
	assert.True(t, next.After(watermark))
}

func TestJoinCallbackRunsWithWatermark(t *testing.T) {
	table := NewTable()
	var got time.Time
	watermark := table.Join("r", member("a"), t0.Add(1500*time.Nanosecond), func(w time.Time) { got = w })

	assert.Equal(t, watermark, got)
	assert.Equal(t, t0.Add(time.Microsecond), watermark)
}

func TestConcurrentRoomsAndMembers(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup
	for r := 0; r < 16; r++ {
		for c := 0; c < 8; c++ {
			wg.Add(1)
			go func(r, c int) {
				defer wg.Done()
				roomID := fmt.Sprintf("room-%d", r)
				m := member(fmt.Sprintf("conn-%d-%d", r, c))
				table.Join(roomID, m, time.Now(), nil)
				_ = table.PublishStamped(roomID, time.Now(), func(time.Time, []Member) error { return nil })
				table.Leave(roomID, m.ID())
			}(r, c)
		}
	}
	wg.Wait()

	assert.Equal(t, 0, table.Rooms())
}
