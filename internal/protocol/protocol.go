// Package protocol defines the JSON envelopes exchanged over the realtime
// connection. Every frame is {"type": "<event>", "payload": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/game/match"
)

// Inbound event types.
const (
	TypeFindMatch   = "findMatch"
	TypeMakeMove    = "makeMove"
	TypeRematchVote = "rematchVote"
	TypeRoomChat    = "roomChat"
	TypeTypingStart = "typingStart"
	TypeTypingStop  = "typingStop"
	TypeSendMessage = "sendMessage"
)

// Outbound event types. roomChat, typingStart and typingStop are shared with
// the inbound set.
const (
	TypeOnlineCount    = "onlineCount"
	TypeUserJoined     = "userJoined"
	TypeUserLeft       = "userLeft"
	TypeWaiting        = "waiting"
	TypeMatchFound     = "matchFound"
	TypeGameUpdate     = "gameUpdate"
	TypeGameOver       = "gameOver"
	TypeRematchStarted = "rematchStarted"
	TypeNewMessage     = "newMessage"
	TypeError          = "error"
	TypeQueueExpired   = "queueExpired"
	TypeRoomClosed     = "roomClosed"
)

// Room close reasons.
const (
	ReasonOpponentLeft = "opponent_left"
	ReasonIdle         = "idle"
)

// ErrMalformed is returned for frames that are not a valid envelope.
var ErrMalformed = errors.New("malformed frame")

// Envelope is one frame on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a frame.
//
// Postcondition: Returns the envelope, or an error wrapping ErrMalformed when
// the frame is not JSON or has no type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Bind decodes the envelope payload into v. A missing payload leaves v unchanged.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Encode builds a frame of the given type. A nil payload is omitted.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return data, nil
}

// MakeMove is the makeMove payload.
type MakeMove struct {
	RoomID    string `json:"roomId"`
	CellIndex *int   `json:"cellIndex"`
}

// RoomRef is the rematchVote payload.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// RoomChatIn is the inbound roomChat payload.
type RoomChatIn struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// SendMessage is the sendMessage payload.
type SendMessage struct {
	Text      string `json:"text"`
	Image     string `json:"image"`
	YouTubeID string `json:"youtubeId"`
	Title     string `json:"title"`
}

// OnlineCount is the onlineCount payload.
type OnlineCount struct {
	Count int `json:"count"`
}

// UserNotice carries a username for userJoined, userLeft and typing events.
type UserNotice struct {
	Username string `json:"username"`
}

// MatchFound is the matchFound payload.
type MatchFound struct {
	RoomID  string                 `json:"roomId"`
	Turn    match.Symbol           `json:"turn"`
	Players match.PlayerIdentities `json:"players"`
}

// GameUpdate is the gameUpdate payload.
type GameUpdate struct {
	RoomID string       `json:"roomId"`
	Board  match.Board  `json:"board"`
	Turn   match.Symbol `json:"turn"`
}

// GameOver is the gameOver payload. Board is omitted for forfeits; Winner is
// null on a draw.
type GameOver struct {
	RoomID string         `json:"roomId"`
	Result match.Result   `json:"result"`
	Board  *match.Board   `json:"board,omitempty"`
	Winner *auth.Identity `json:"winner"`
}

// RematchStarted is the rematchStarted payload.
type RematchStarted struct {
	RoomID  string                 `json:"roomId"`
	Board   match.Board            `json:"board"`
	Turn    match.Symbol           `json:"turn"`
	Players match.PlayerIdentities `json:"players"`
}

// RoomChatOut is the outbound roomChat payload.
type RoomChatOut struct {
	RoomID string        `json:"roomId"`
	Sender auth.Identity `json:"sender"`
	Text   string        `json:"text"`
}

// NewMessage is the newMessage payload.
type NewMessage struct {
	Message chat.Message `json:"message"`
}

// Error is the error payload.
type Error struct {
	Message string `json:"message"`
}

// RoomClosed is the roomClosed payload.
type RoomClosed struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}
