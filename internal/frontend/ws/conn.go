// Package ws implements the WebSocket frontend: an authenticated upgrade
// handler and a framed connection carrying one JSON event per text message.
package ws

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/duel/internal/config"
)

// Conn wraps a WebSocket connection with read limits, keepalive pings and
// write deadlines. Send may be called from one goroutine while another
// blocks in Recv.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps ws and starts its keepalive loop.
//
// Precondition: ws must be an upgraded connection; cfg.PingInterval must be
// shorter than cfg.PongWait.
// Postcondition: The connection drops a peer that stays silent for PongWait.
func NewConn(ws *websocket.Conn, cfg config.WebSocketConfig) *Conn {
	c := &Conn{
		ws:           ws,
		writeTimeout: cfg.WriteTimeout,
		pongWait:     cfg.PongWait,
		done:         make(chan struct{}),
	}

	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if cfg.PingInterval > 0 {
		go c.pingLoop(cfg.PingInterval)
	}
	return c
}

// Recv blocks for the next text frame.
//
// Postcondition: Returns io.EOF after a normal close by the peer.
func (c *Conn) Recv() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		c.extendReadDeadline()
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Send writes data as a single text frame.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return fmt.Errorf("sending frame: %w", websocket.ErrCloseSent)
	}
	if err := c.ws.SetWriteDeadline(c.writeDeadline()); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending frame: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the underlying connection.
//
// Postcondition: Subsequent calls return nil; a blocked Recv returns.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, c.writeDeadline())
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.writeDeadline()); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) extendReadDeadline() {
	if c.pongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	}
}

func (c *Conn) writeDeadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
