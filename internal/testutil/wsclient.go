package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a decoded server event.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the event payload into v or fails the test.
func (e Event) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Payload, v); err != nil {
		t.Fatalf("decoding %s payload %s: %v", e.Type, e.Payload, err)
	}
}

// WSClient is a WebSocket test client for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// WSURL converts an httptest server URL into a ws:// URL for path, with the
// token query parameter set when token is non-empty.
func WSURL(serverURL, path, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + path
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// DialWS connects to the WebSocket endpoint at rawURL.
//
// Precondition: rawURL must be a ws:// URL with a listening server.
// Postcondition: Returns a connected WSClient and the handshake response, or
// the dial error together with the response (which carries the HTTP status of
// a rejected upgrade).
func DialWS(t *testing.T, rawURL string, header http.Header) (*WSClient, *http.Response, error) {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(rawURL, header)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })

	t.Logf("websocket client connected to %s [%s]", rawURL, time.Since(start))
	return &WSClient{conn: conn, t: t}, resp, nil
}

// MustDialWS connects to rawURL or fails the test.
func MustDialWS(t *testing.T, rawURL string) *WSClient {
	t.Helper()
	c, _, err := DialWS(t, rawURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", rawURL, err)
	}
	return c
}

// Send writes an event frame with the given type and payload.
//
// Postcondition: The frame is written, or the test fails.
func (c *WSClient) Send(eventType string, payload any) {
	c.t.Helper()
	frame := map[string]any{"type": eventType}
	if payload != nil {
		frame["payload"] = payload
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", eventType, err)
	}
	c.SendRaw(data)
}

// SendRaw writes data as a single text frame.
func (c *WSClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("sending %q: %v", data, err)
	}
}

// Read returns the next event or fails on timeout.
func (c *WSClient) Read(timeout time.Duration) Event {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.t.Fatalf("decoding event %q: %v", data, err)
	}
	return ev
}

// ReadUntil reads events until one of the given type arrives, discarding the
// rest.
//
// Postcondition: Returns the matching event, or fails on timeout.
func (c *WSClient) ReadUntil(eventType string, timeout time.Duration) Event {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %s", eventType)
		}
		ev := c.Read(remaining)
		if ev.Type == eventType {
			return ev
		}
	}
}

// ReadErr reads the next frame and returns the read error, if any.
func (c *WSClient) ReadErr(timeout time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, _, err := c.conn.ReadMessage()
	return err
}

// Close sends a close frame and closes the underlying connection.
func (c *WSClient) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}
