package match

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/duel/internal/auth"
)

type fakePlayer struct {
	id       string
	identity auth.Identity
}

func (p *fakePlayer) ID() string              { return p.id }
func (p *fakePlayer) Identity() auth.Identity { return p.identity }

func newPlayer(name string) *fakePlayer {
	return &fakePlayer{id: "conn-" + name, identity: auth.Identity{ID: "user-" + name, Username: name}}
}

func newTestRoom() (*Room, *fakePlayer, *fakePlayer) {
	a, b := newPlayer("a"), newPlayer("b")
	return NewRoom("room_test", a, b, nil), a, b
}

func TestNewRoom(t *testing.T) {
	r, a, b := newTestRoom()
	snap := r.Snapshot()
	assert.Equal(t, "room_test", snap.RoomID)
	assert.Equal(t, X, snap.Turn)
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.Equal(t, Board{}, snap.Board)
	assert.Same(t, a, snap.Players.X)
	assert.Same(t, b, snap.Players.O)
	assert.True(t, r.Has(a))
	assert.False(t, r.Has(newPlayer("c")))
}

func TestApplyMoveRejections(t *testing.T) {
	r, a, b := newTestRoom()
	before := r.Snapshot()

	_, ok := r.ApplyMove(b, 0, nil)
	assert.False(t, ok, "O cannot open")
	_, ok = r.ApplyMove(newPlayer("c"), 0, nil)
	assert.False(t, ok, "non-participant")
	_, ok = r.ApplyMove(a, -1, nil)
	assert.False(t, ok, "below range")
	_, ok = r.ApplyMove(a, 9, nil)
	assert.False(t, ok, "above range")
	assert.Equal(t, before, r.Snapshot())

	_, ok = r.ApplyMove(a, 4, nil)
	require.True(t, ok)
	_, ok = r.ApplyMove(b, 4, nil)
	assert.False(t, ok, "occupied")
	_, ok = r.ApplyMove(a, 0, nil)
	assert.False(t, ok, "not X's turn")
}

func TestApplyMoveUpdate(t *testing.T) {
	r, a, _ := newTestRoom()
	out, ok := r.ApplyMove(a, 0, nil)
	require.True(t, ok)
	assert.False(t, out.Terminal())
	assert.Nil(t, out.Winner)
	assert.Equal(t, O, out.Turn)
	assert.Equal(t, X, out.Board[0])
}

// A plays 0, B plays 4, A plays 1, B plays 5, A plays 2: X wins on the top row.
func TestScenarioXWinsTopRow(t *testing.T) {
	r, a, b := newTestRoom()
	moves := []struct {
		p    Player
		cell int
	}{{a, 0}, {b, 4}, {a, 1}, {b, 5}}
	for _, m := range moves {
		out, ok := r.ApplyMove(m.p, m.cell, nil)
		require.True(t, ok)
		require.False(t, out.Terminal())
	}
	out, ok := r.ApplyMove(a, 2, nil)
	require.True(t, ok)
	assert.True(t, out.Terminal())
	assert.Equal(t, ResultX, out.Result)
	assert.Equal(t, StatusEnded, out.Status)
	require.NotNil(t, out.Winner)
	assert.Equal(t, a.identity, *out.Winner)

	_, ok = r.ApplyMove(b, 8, nil)
	assert.False(t, ok, "no moves after the round ends")
}

func TestDrawHasNoWinner(t *testing.T) {
	r, a, b := newTestRoom()
	// X O X / X O O / O X X
	seq := []struct {
		p    Player
		cell int
	}{{a, 0}, {b, 1}, {a, 2}, {b, 4}, {a, 3}, {b, 5}, {a, 7}, {b, 6}}
	for _, m := range seq {
		_, ok := r.ApplyMove(m.p, m.cell, nil)
		require.True(t, ok)
	}
	out, ok := r.ApplyMove(a, 8, nil)
	require.True(t, ok)
	assert.Equal(t, ResultDraw, out.Result)
	assert.Nil(t, out.Winner)
}

func TestRematchRequiresBothAndIsIdempotent(t *testing.T) {
	r, a, b := newTestRoom()

	_, started := r.Vote(a, nil)
	assert.False(t, started)
	_, started = r.Vote(a, nil)
	assert.False(t, started, "repeat vote must not start a rematch")
	assert.Equal(t, 1, r.Votes())

	_, started = r.Vote(newPlayer("c"), nil)
	assert.False(t, started, "non-participant vote ignored")
	assert.Equal(t, 1, r.Votes())

	snap, started := r.Vote(b, nil)
	require.True(t, started)
	assert.Equal(t, 0, r.Votes())
	assert.Same(t, b, snap.Players.X)
	assert.Same(t, a, snap.Players.O)
}

func TestRematchAfterWinSwapsAndResets(t *testing.T) {
	r, a, b := newTestRoom()
	for _, m := range []struct {
		p    Player
		cell int
	}{{a, 0}, {b, 4}, {a, 1}, {b, 5}, {a, 2}} {
		_, ok := r.ApplyMove(m.p, m.cell, nil)
		require.True(t, ok)
	}

	r.Vote(a, nil)
	snap, started := r.Vote(b, nil)
	require.True(t, started)
	assert.Equal(t, Board{}, snap.Board)
	assert.Equal(t, X, snap.Turn)
	assert.Equal(t, StatusPlaying, snap.Status)
	assert.Equal(t, ResultNone, snap.Result)
	assert.Equal(t, b.identity, snap.Players.Identities().X)
	assert.Equal(t, a.identity, snap.Players.Identities().O)

	_, ok := r.ApplyMove(a, 0, nil)
	assert.False(t, ok, "A is O now")
	_, ok = r.ApplyMove(b, 0, nil)
	assert.True(t, ok)
}

func TestForfeit(t *testing.T) {
	r, a, b := newTestRoom()
	r.Vote(a, nil)

	winner, ok := r.Forfeit(a, nil)
	require.True(t, ok)
	assert.Same(t, b, winner)
	assert.True(t, r.Closed())
	assert.Equal(t, ResultOpponentLeft, r.Snapshot().Result)
	assert.Equal(t, 0, r.Votes())

	_, ok = r.Forfeit(b, nil)
	assert.False(t, ok, "second forfeit is a no-op")
	_, ok = r.ApplyMove(a, 0, nil)
	assert.False(t, ok)
	_, started := r.Vote(b, nil)
	assert.False(t, started)
}

func TestForfeitNonParticipant(t *testing.T) {
	r, _, _ := newTestRoom()
	_, ok := r.Forfeit(newPlayer("c"), nil)
	assert.False(t, ok)
	assert.False(t, r.Closed())
}

func TestLeave(t *testing.T) {
	r, a, b := newTestRoom()
	assert.False(t, r.Leave(a, nil), "cannot leave while playing")
	assert.False(t, r.Closed())

	for _, m := range []struct {
		p    Player
		cell int
	}{{a, 0}, {b, 4}, {a, 1}, {b, 5}, {a, 2}} {
		_, ok := r.ApplyMove(m.p, m.cell, nil)
		require.True(t, ok)
	}
	var notified []Player
	require.True(t, r.Leave(a, func(other Player) { notified = append(notified, other) }))
	assert.True(t, r.Closed())
	require.Len(t, notified, 1)
	assert.Same(t, b, notified[0])

	assert.True(t, r.Leave(b, func(other Player) { notified = append(notified, other) }))
	assert.Len(t, notified, 1, "closing an already closed room publishes nothing")
}

func TestAnnounce(t *testing.T) {
	r, a, _ := newTestRoom()
	var got []Snapshot
	require.True(t, r.Announce(func(s Snapshot) { got = append(got, s) }))
	require.Len(t, got, 1)
	assert.Equal(t, "room_test", got[0].RoomID)

	winner, ok := r.Forfeit(a, func(Player) { got = append(got, Snapshot{}) })
	require.True(t, ok)
	assert.NotNil(t, winner)
	assert.Len(t, got, 2, "announced rooms publish the forfeit")
	assert.False(t, r.Announce(nil), "closed rooms cannot be announced")
}

func TestForfeitBeforeAnnounceIsSilent(t *testing.T) {
	r, a, b := newTestRoom()
	published := false
	winner, ok := r.Forfeit(a, func(Player) { published = true })
	require.True(t, ok)
	assert.Same(t, b, winner)
	assert.False(t, published)
	assert.False(t, r.Announce(func(Snapshot) { published = true }))
	assert.False(t, published)
}

func TestClosePublishesOnce(t *testing.T) {
	r, _, _ := newTestRoom()
	calls := 0
	assert.True(t, r.Close(func(Snapshot) { calls++ }))
	assert.False(t, r.Close(func(Snapshot) { calls++ }))
	assert.Equal(t, 1, calls)
}

func TestPublishNotHoldingStateLock(t *testing.T) {
	r, a, _ := newTestRoom()
	_, ok := r.ApplyMove(a, 0, func(out MoveOutcome) {
		// Reading state from inside publish must not deadlock.
		assert.Equal(t, out.Board, r.Snapshot().Board)
	})
	require.True(t, ok)
}

// Concurrent movers publish in the order their moves were applied.
func TestPublishOrderMatchesMutationOrder(t *testing.T) {
	for round := 0; round < 50; round++ {
		r, a, b := newTestRoom()
		var mu sync.Mutex
		var filled []int
		record := func(out MoveOutcome) {
			mu.Lock()
			defer mu.Unlock()
			n := 0
			for _, s := range out.Board {
				if s != Empty {
					n++
				}
			}
			filled = append(filled, n)
		}

		var wg sync.WaitGroup
		for _, p := range []*fakePlayer{a, b} {
			wg.Add(1)
			go func(p *fakePlayer) {
				defer wg.Done()
				for cell := 0; cell < BoardSize; cell++ {
					r.ApplyMove(p, cell, record)
				}
			}(p)
		}
		wg.Wait()

		for i := 1; i < len(filled); i++ {
			require.Greater(t, filled[i], filled[i-1], "published out of order: %v", filled)
		}
	}
}

func TestLastActivityAdvancesOnMove(t *testing.T) {
	now := time.Unix(1000, 0)
	a, b := newPlayer("a"), newPlayer("b")
	r := NewRoom("r", a, b, func() time.Time { return now })
	assert.Equal(t, now, r.LastActivity())

	now = now.Add(time.Minute)
	moved := now
	_, ok := r.ApplyMove(a, 0, nil)
	require.True(t, ok)
	assert.Equal(t, moved, r.LastActivity())

	now = now.Add(time.Minute)
	_, ok = r.ApplyMove(a, 1, nil)
	require.False(t, ok)
	assert.Equal(t, moved, r.LastActivity(), "rejected moves do not count as activity")
}

// Property: a move changes the board iff the mover holds the turn, the cell
// is in range and empty, and the round is playing. Rejected moves leave the
// snapshot unchanged.
func TestPropertyMoveLegality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r, a, b := newTestRoom()
		c := newPlayer("c")
		actors := []*fakePlayer{a, b, c}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			p := rapid.SampledFrom(actors).Draw(t, "actor")
			cell := rapid.IntRange(-2, 10).Draw(t, "cell")
			before := r.Snapshot()

			legal := before.Status == StatusPlaying &&
				cell >= 0 && cell < BoardSize && before.Board[cell] == Empty &&
				((before.Turn == X && p == before.Players.X) || (before.Turn == O && p == before.Players.O))

			out, ok := r.ApplyMove(p, cell, nil)
			if ok != legal {
				t.Fatalf("move by %s at %d: ok=%v legal=%v", p.id, cell, ok, legal)
			}
			after := r.Snapshot()
			if !ok {
				if after != before {
					t.Fatalf("rejected move changed state: %+v -> %+v", before, after)
				}
				continue
			}
			changed := 0
			for j := range after.Board {
				if after.Board[j] != before.Board[j] {
					changed++
				}
			}
			if changed != 1 {
				t.Fatalf("accepted move changed %d cells", changed)
			}
			if out.Result != Evaluate(after.Board) {
				t.Fatalf("outcome result %q, board evaluates to %q", out.Result, Evaluate(after.Board))
			}
		}
	})
}
