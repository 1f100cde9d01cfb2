// Package session tracks live client connections and the set of users
// currently online.
package session

import (
	"fmt"
	"sync"

	"github.com/cory-johannsen/duel/internal/auth"
)

// Connection is one live client transport. It bridges the match core to the
// transport writer: events pushed here are drained by the writer goroutine.
type Connection struct {
	id       string
	identity auth.Identity
	events   chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewConnection creates a Connection with an open events channel.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an open Connection; a non-positive bufferSize means 64.
func NewConnection(id string, identity auth.Identity, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Connection{
		id:       id,
		identity: identity,
		events:   make(chan []byte, bufferSize),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the authenticated user bound to this connection.
func (c *Connection) Identity() auth.Identity {
	return c.identity
}

// Push enqueues data without blocking.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: Data is enqueued, or an error is returned if the connection
// is closed or its buffer is full.
func (c *Connection) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.events <- data:
		return nil
	default:
		return fmt.Errorf("connection %s event buffer full", c.id)
	}
}

// Events returns the read-only events channel drained by the transport writer.
func (c *Connection) Events() <-chan []byte {
	return c.events
}

// Close marks the connection closed and closes the events channel.
//
// Postcondition: The events channel is closed. Further Push calls return an error.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
