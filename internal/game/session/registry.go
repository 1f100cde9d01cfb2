package session

import (
	"fmt"
	"sync"
)

// Registry tracks all live connections and the set of online users. A user
// with several connections counts once.
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection // connection id → connection
	online map[string]int         // user id → live connection count
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		online: make(map[string]int),
	}
}

// Presence describes the online set right after a Register or Unregister.
type Presence struct {
	// Count is the number of distinct online users.
	Count int
	// Changed is true when the user went from offline to online (Register) or
	// from online to offline (Unregister).
	Changed bool
}

// Register adds c to the registry.
//
// Precondition: c must be non-nil.
// Postcondition: Returns the resulting presence, or an error if a connection
// with the same id is already registered.
func (r *Registry) Register(c *Connection) (Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return Presence{}, fmt.Errorf("connection %q already registered", c.ID())
	}
	r.conns[c.ID()] = c
	uid := c.Identity().ID
	r.online[uid]++
	return Presence{Count: len(r.online), Changed: r.online[uid] == 1}, nil
}

// Unregister removes the connection with the given id and closes it.
//
// Postcondition: Returns the removed connection and the resulting presence,
// or ok=false if the id was not registered. Calling it twice is harmless.
func (r *Registry) Unregister(connID string) (c *Connection, p Presence, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok = r.conns[connID]
	if !ok {
		return nil, Presence{Count: len(r.online)}, false
	}
	delete(r.conns, connID)
	_ = c.Close()

	uid := c.Identity().ID
	r.online[uid]--
	last := r.online[uid] <= 0
	if last {
		delete(r.online, uid)
	}
	return c, Presence{Count: len(r.online), Changed: last}, true
}

// Get returns the connection with the given id.
//
// Postcondition: Returns (connection, true) if found, or (nil, false) otherwise.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[userID] > 0
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast pushes data to every connection except the one with id except
// (empty means everyone). Pushes happen after the lock is released.
//
// Postcondition: Returns the ids of connections whose push failed.
func (r *Registry) Broadcast(data []byte, except string) []string {
	var failed []string
	for _, c := range r.Connections() {
		if c.ID() == except {
			continue
		}
		if err := c.Push(data); err != nil {
			failed = append(failed, c.ID())
		}
	}
	return failed
}
