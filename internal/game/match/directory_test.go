package match

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryCreate(t *testing.T) {
	d := NewDirectory()
	a, b := newPlayer("a"), newPlayer("b")

	r, err := d.Create(a, b)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.ID(), "room_"))
	assert.Equal(t, 1, d.Count())

	got, ok := d.Get(r.ID())
	require.True(t, ok)
	assert.Same(t, r, got)

	for _, p := range []*fakePlayer{a, b} {
		got, ok := d.RoomOf(p.ID())
		require.True(t, ok)
		assert.Same(t, r, got)
	}
}

func TestDirectoryCreateRejectsBusyOrSelf(t *testing.T) {
	d := NewDirectory()
	a, b, c := newPlayer("a"), newPlayer("b"), newPlayer("c")
	_, err := d.Create(a, b)
	require.NoError(t, err)

	_, err = d.Create(c, a)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already in room")

	_, err = d.Create(c, c)
	assert.Error(t, err)
	assert.Equal(t, 1, d.Count())
}

func TestDirectoryUniqueIDs(t *testing.T) {
	d := NewDirectory()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		r, err := d.Create(newPlayer(fmt.Sprintf("x%d", i)), newPlayer(fmt.Sprintf("o%d", i)))
		require.NoError(t, err)
		assert.False(t, seen[r.ID()])
		seen[r.ID()] = true
	}
}

func TestDirectoryCreateRetriesCollidingID(t *testing.T) {
	d := NewDirectory()
	ids := []string{"room_1", "room_1", "room_2"}
	d.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	r1, err := d.Create(newPlayer("a"), newPlayer("b"))
	require.NoError(t, err)
	r2, err := d.Create(newPlayer("c"), newPlayer("d"))
	require.NoError(t, err)
	assert.Equal(t, "room_1", r1.ID())
	assert.Equal(t, "room_2", r2.ID())
}

func TestDirectoryRemove(t *testing.T) {
	d := NewDirectory()
	a, b := newPlayer("a"), newPlayer("b")
	r, err := d.Create(a, b)
	require.NoError(t, err)

	removed, ok := d.Remove(r.ID())
	require.True(t, ok)
	assert.Same(t, r, removed)
	assert.True(t, r.Closed())
	assert.Equal(t, 0, d.Count())
	_, ok = d.RoomOf(a.ID())
	assert.False(t, ok)

	_, ok = d.Remove(r.ID())
	assert.False(t, ok)

	_, err = d.Create(b, a)
	assert.NoError(t, err, "players are free after removal")
}

func TestDirectoryRemoveAfterRematchSwap(t *testing.T) {
	d := NewDirectory()
	a, b := newPlayer("a"), newPlayer("b")
	r, err := d.Create(a, b)
	require.NoError(t, err)
	r.Vote(a, nil)
	_, started := r.Vote(b, nil)
	require.True(t, started)

	d.Remove(r.ID())
	_, ok := d.RoomOf(a.ID())
	assert.False(t, ok)
	_, ok = d.RoomOf(b.ID())
	assert.False(t, ok)
}

func TestDirectoryIdle(t *testing.T) {
	d := NewDirectory()
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	stale, err := d.Create(newPlayer("a"), newPlayer("b"))
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	fresh, err := d.Create(newPlayer("c"), newPlayer("d"))
	require.NoError(t, err)

	idle := d.Idle(now.Add(-5 * time.Minute))
	require.Len(t, idle, 1)
	assert.Same(t, stale, idle[0])
	assert.NotSame(t, fresh, idle[0])
}

func TestDirectoryConcurrentCreateRemove(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := d.Create(newPlayer(fmt.Sprintf("x%d", i)), newPlayer(fmt.Sprintf("o%d", i)))
			if err != nil {
				return
			}
			r.ApplyMove(r.Snapshot().Players.X, i%9, nil)
			d.Remove(r.ID())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.Count())
}
