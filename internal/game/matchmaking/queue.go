// Package matchmaking pairs connections waiting for an opponent in strict
// arrival order.
package matchmaking

import (
	"sync"
	"time"

	"github.com/cory-johannsen/duel/internal/game/match"
)

// Waiter is a connection that may wait in the queue. session.Connection
// satisfies it.
type Waiter interface {
	match.Player
	IsClosed() bool
}

// Outcome classifies the result of RequestMatch.
type Outcome int

const (
	// Ignored means the request changed nothing.
	Ignored Outcome = iota
	// Waiting means the requester was appended to the queue.
	Waiting
	// Matched means the requester was paired with the queue head.
	Matched
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Matched:
		return "matched"
	default:
		return "ignored"
	}
}

// Result is returned by RequestMatch. Room is set only when Outcome is Matched.
type Result struct {
	Outcome Outcome
	Room    *match.Room
	// Skipped counts stale entries discarded while looking for a live head.
	Skipped int
}

type entry struct {
	w        Waiter
	enqueued time.Time
}

// Queue is the FIFO of connections waiting to be paired.
// All methods are safe for concurrent use.
//
// Lock order: the Queue lock is taken before the Directory lock.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	dir     *match.Directory
	now     func() time.Time
}

// NewQueue creates an empty Queue that registers new rooms in dir.
//
// Precondition: dir must be non-nil.
func NewQueue(dir *match.Directory) *Queue {
	return &Queue{dir: dir, now: time.Now}
}

// RequestMatch pairs w with the oldest live waiting connection, or queues it.
//
// Postcondition: Ignored if w is already queued, another live connection of
// the same user is queued, or w already plays in a room. Otherwise stale heads
// are discarded and w is either paired with the first live head (head plays X)
// or appended to the tail.
func (q *Queue) RequestMatch(w Waiter) Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	uid := w.Identity().ID
	for _, e := range q.entries {
		if e.w.ID() == w.ID() {
			return Result{Outcome: Ignored}
		}
		if !e.w.IsClosed() && e.w.Identity().ID == uid {
			return Result{Outcome: Ignored}
		}
	}
	if _, busy := q.dir.RoomOf(w.ID()); busy {
		return Result{Outcome: Ignored}
	}

	skipped := 0
	for len(q.entries) > 0 {
		head := q.entries[0]
		q.entries[0] = entry{}
		q.entries = q.entries[1:]
		if head.w.IsClosed() {
			skipped++
			continue
		}
		room, err := q.dir.Create(head.w, w)
		if err != nil {
			skipped++
			continue
		}
		return Result{Outcome: Matched, Room: room, Skipped: skipped}
	}

	q.entries = append(q.entries, entry{w: w, enqueued: q.now()})
	return Result{Outcome: Waiting, Skipped: skipped}
}

// Remove drops the entry for connID. It reports whether one was queued.
func (q *Queue) Remove(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.w.ID() == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether connID is queued.
func (q *Queue) Contains(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.w.ID() == connID {
			return true
		}
	}
	return false
}

// Len returns the number of queued entries, stale ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Expire removes every entry that has waited longer than maxWait.
//
// Precondition: maxWait must be positive.
// Postcondition: Returns the expired connections that are still live.
func (q *Queue) Expire(maxWait time.Duration) []Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxWait)
	var expired []Waiter
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.enqueued.Before(cutoff) {
			if !e.w.IsClosed() {
				expired = append(expired, e.w)
			}
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = entry{}
	}
	q.entries = kept
	return expired
}
