package match

import (
	"sync"
	"time"

	"github.com/cory-johannsen/duel/internal/auth"
)

// Player is a participant in a room. session.Connection satisfies it.
type Player interface {
	ID() string
	Identity() auth.Identity
}

// Status is the lifecycle state of a game round.
type Status string

const (
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// Players maps the two symbols to their participants.
type Players struct {
	X Player
	O Player
}

// Identities returns the display identities of both participants.
func (p Players) Identities() PlayerIdentities {
	return PlayerIdentities{X: p.X.Identity(), O: p.O.Identity()}
}

// Slice returns both participants, X first.
func (p Players) Slice() []Player {
	return []Player{p.X, p.O}
}

// PlayerIdentities is the wire form of Players.
type PlayerIdentities struct {
	X auth.Identity `json:"X"`
	O auth.Identity `json:"O"`
}

// Snapshot is a consistent copy of a room's state taken under its lock.
type Snapshot struct {
	RoomID  string
	Players Players
	Board   Board
	Turn    Symbol
	Status  Status
	Result  Result
}

// MoveOutcome describes an accepted move.
type MoveOutcome struct {
	Snapshot
	// Winner is set when Result is ResultX or ResultO.
	Winner *auth.Identity
}

// Terminal reports whether the move ended the round.
func (m MoveOutcome) Terminal() bool {
	return m.Result != ResultNone
}

// Room is the authoritative state of one pairing. All methods are safe for
// concurrent use; each room is locked independently of every other room.
//
// Mutating methods take an optional publish callback. It runs after the state
// lock is released but under the room's outbox lock, which is acquired before
// the state lock is dropped, so observers see events in mutation order.
type Room struct {
	id  string
	now func() time.Time

	mu           sync.Mutex
	outbox       sync.Mutex
	players      Players
	board        Board
	turn         Symbol
	status       Status
	result       Result
	votes        RematchVotes
	lastActivity time.Time
	announced    bool
	closed       bool
}

// NewRoom creates a room with x to open on an empty board.
//
// Precondition: id must be non-empty; x and o must be distinct non-nil players.
// Postcondition: The room is playing with turn X.
func NewRoom(id string, x, o Player, now func() time.Time) *Room {
	if now == nil {
		now = time.Now
	}
	return &Room{
		id:           id,
		now:          now,
		players:      Players{X: x, O: o},
		turn:         X,
		status:       StatusPlaying,
		lastActivity: now(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// handOff swaps the state lock for the outbox lock and runs publish.
// Caller holds r.mu; it is released on return.
func (r *Room) handOff(publish func()) {
	r.outbox.Lock()
	r.mu.Unlock()
	defer r.outbox.Unlock()
	if publish != nil {
		publish()
	}
}

// symbolOf resolves a participant's symbol. Caller holds r.mu.
func (r *Room) symbolOf(p Player) Symbol {
	switch p.ID() {
	case r.players.X.ID():
		return X
	case r.players.O.ID():
		return O
	default:
		return Empty
	}
}

func (r *Room) playerFor(s Symbol) Player {
	if s == X {
		return r.players.X
	}
	return r.players.O
}

// Has reports whether p participates in this room.
func (r *Room) Has(p Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbolOf(p) != Empty
}

// Announce publishes the initial state of a freshly paired room.
//
// Postcondition: Returns false, without publishing, if the room was closed
// before it could be announced.
func (r *Room) Announce(publish func(Snapshot)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.announced = true
	snap := r.snapshot()
	r.handOff(func() {
		if publish != nil {
			publish(snap)
		}
	})
	return true
}

// ApplyMove places p's symbol at cell.
//
// Postcondition: On success the cell holds p's symbol, the turn flips, and the
// outcome carries any terminal result. ok is false, state is unchanged and
// nothing is published when p is not a participant, it is not p's turn, the
// round is not playing, the room is closed, or cell is out of range or occupied.
func (r *Room) ApplyMove(p Player, cell int, publish func(MoveOutcome)) (MoveOutcome, bool) {
	r.mu.Lock()
	if r.closed || r.status != StatusPlaying {
		r.mu.Unlock()
		return MoveOutcome{}, false
	}
	sym := r.symbolOf(p)
	if sym == Empty || sym != r.turn || cell < 0 || cell >= BoardSize || r.board[cell] != Empty {
		r.mu.Unlock()
		return MoveOutcome{}, false
	}

	r.board[cell] = sym
	r.turn = sym.Opponent()
	r.lastActivity = r.now()

	out := MoveOutcome{}
	if res := Evaluate(r.board); res != ResultNone {
		r.status = StatusEnded
		r.result = res
		if res != ResultDraw {
			id := r.playerFor(Symbol(res)).Identity()
			out.Winner = &id
		}
	}
	out.Snapshot = r.snapshot()
	r.handOff(func() {
		if publish != nil {
			publish(out)
		}
	})
	return out, true
}

// Vote records a rematch vote from p.
//
// Postcondition: started is true exactly when this vote was the second
// distinct vote of the round; the players are then swapped, the board is
// reset with turn X, and publish receives the new state. A repeated vote, a
// vote from a non-participant, or a vote on a closed room changes nothing.
func (r *Room) Vote(p Player, publish func(Snapshot)) (snap Snapshot, started bool) {
	r.mu.Lock()
	if r.closed || r.symbolOf(p) == Empty {
		r.mu.Unlock()
		return Snapshot{}, false
	}
	count, added := r.votes.Add(p.ID())
	if !added || count < 2 {
		r.mu.Unlock()
		return Snapshot{}, false
	}

	r.votes.Clear()
	r.players.X, r.players.O = r.players.O, r.players.X
	r.board = Board{}
	r.turn = X
	r.status = StatusPlaying
	r.result = ResultNone
	r.lastActivity = r.now()
	snap = r.snapshot()
	r.handOff(func() {
		if publish != nil {
			publish(snap)
		}
	})
	return snap, true
}

// Forfeit closes the room because leaver disconnected.
//
// Postcondition: Returns the remaining participant and true the first time it
// is called for a participant; later calls, or calls for a non-participant,
// return false. publish receives the winner only if the room was announced.
func (r *Room) Forfeit(leaver Player, publish func(winner Player)) (Player, bool) {
	r.mu.Lock()
	sym := r.symbolOf(leaver)
	if r.closed || sym == Empty {
		r.mu.Unlock()
		return nil, false
	}
	r.closed = true
	r.status = StatusEnded
	r.result = ResultOpponentLeft
	r.votes.Clear()
	winner := r.playerFor(sym.Opponent())
	announced := r.announced
	r.handOff(func() {
		if publish != nil && announced {
			publish(winner)
		}
	})
	return winner, true
}

// Leave closes a finished room on behalf of p so p can be paired again.
//
// Postcondition: proceed is false when the round is still playing, in which
// case nothing changes. Otherwise the room is closed and, if this call closed
// it, publish receives the remaining participant.
func (r *Room) Leave(p Player, publish func(other Player)) (proceed bool) {
	r.mu.Lock()
	sym := r.symbolOf(p)
	if r.closed || sym == Empty {
		r.mu.Unlock()
		return true
	}
	if r.status == StatusPlaying {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.votes.Clear()
	other := r.playerFor(sym.Opponent())
	r.handOff(func() {
		if publish != nil {
			publish(other)
		}
	})
	return true
}

// Close marks the room closed and reports whether this call closed it.
// publish receives the final state only when it did.
func (r *Room) Close(publish func(Snapshot)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.votes.Clear()
	snap := r.snapshot()
	r.handOff(func() {
		if publish != nil {
			publish(snap)
		}
	})
	return true
}

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// LastActivity returns the time of the last accepted move or reset.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Votes returns the number of rematch votes this round.
func (r *Room) Votes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes.Len()
}

// Snapshot returns a copy of the room's current state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		RoomID:  r.id,
		Players: r.players,
		Board:   r.board,
		Turn:    r.turn,
		Status:  r.status,
		Result:  r.result,
	}
}
