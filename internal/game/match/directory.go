package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Directory maps room ids to their rooms and each participant to the one room
// it plays in. All methods are safe for concurrent use.
//
// Lock order: a Directory lock may be held while acquiring a Room lock, never
// the reverse. Publish callbacks must not call back into the Directory.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[string]*Room  // room id → room
	byConn map[string]string // connection id → room id
	newID  func() string
	now    func() time.Time
}

// NewDirectory creates an empty Directory that names rooms room_<uuid>.
func NewDirectory() *Directory {
	return &Directory{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
		newID:  func() string { return "room_" + uuid.NewString() },
		now:    time.Now,
	}
}

// Create pairs x and o in a new room with x to open.
//
// Precondition: x and o must be distinct players.
// Postcondition: Returns the registered room, or an error if either player
// already participates in a room or x and o are the same connection.
func (d *Directory) Create(x, o Player) (*Room, error) {
	if x.ID() == o.ID() {
		return nil, fmt.Errorf("connection %q cannot play itself", x.ID())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range []Player{x, o} {
		if rid, ok := d.byConn[p.ID()]; ok {
			return nil, fmt.Errorf("connection %q already in room %q", p.ID(), rid)
		}
	}
	id := d.newID()
	for _, exists := d.rooms[id]; exists; _, exists = d.rooms[id] {
		id = d.newID()
	}
	room := NewRoom(id, x, o, d.now)
	d.rooms[id] = room
	d.byConn[x.ID()] = id
	d.byConn[o.ID()] = id
	return room, nil
}

// Get returns the room with the given id.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (d *Directory) Get(roomID string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	return r, ok
}

// RoomOf returns the room the connection participates in.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (d *Directory) RoomOf(connID string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rid, ok := d.byConn[connID]
	if !ok {
		return nil, false
	}
	r, ok := d.rooms[rid]
	return r, ok
}

// Remove unregisters and closes the room with the given id.
//
// Postcondition: Returns the removed room, or false if it was not registered.
// Calling it twice is harmless.
func (d *Directory) Remove(roomID string) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	delete(d.rooms, roomID)
	for _, p := range r.Snapshot().Players.Slice() {
		if d.byConn[p.ID()] == roomID {
			delete(d.byConn, p.ID())
		}
	}
	r.Close(nil)
	return r, true
}

// Count returns the number of registered rooms.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// Rooms returns a snapshot of all registered rooms.
func (d *Directory) Rooms() []*Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	return out
}

// Idle returns the rooms with no activity since before cutoff.
func (d *Directory) Idle(cutoff time.Time) []*Room {
	var out []*Room
	for _, r := range d.Rooms() {
		if r.LastActivity().Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}
