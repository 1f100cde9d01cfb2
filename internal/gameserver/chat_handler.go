package gameserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/game/match"
	"github.com/cory-johannsen/duel/internal/game/session"
	"github.com/cory-johannsen/duel/internal/protocol"
)

// ErrChatUnavailable is returned by SendMessage when no message store is configured.
var ErrChatUnavailable = errors.New("chat store unavailable")

// ChatHandler handles room chat, typing indicators, and global chat.
type ChatHandler struct {
	rooms  *match.Directory
	store  chat.Store
	logger *zap.Logger
}

// NewChatHandler creates a ChatHandler with the given dependencies.
//
// Precondition: rooms and logger must be non-nil. store may be nil (global
// chat messages are rejected with ErrChatUnavailable).
func NewChatHandler(rooms *match.Directory, store chat.Store, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		rooms:  rooms,
		store:  store,
		logger: logger,
	}
}

// RoomChat builds the relay of a room chat line.
//
// Precondition: conn must be a registered connection.
// Postcondition: Returns the outbound payload and both participants, or
// ok=false when the room is unknown, conn is not a participant, or the text
// is empty or longer than chat.MaxTextLength.
func (h *ChatHandler) RoomChat(conn *session.Connection, in protocol.RoomChatIn) (protocol.RoomChatOut, []match.Player, bool) {
	if in.Text == "" || len(in.Text) > chat.MaxTextLength {
		return protocol.RoomChatOut{}, nil, false
	}
	room, ok := h.rooms.Get(in.RoomID)
	if !ok || !room.Has(conn) {
		return protocol.RoomChatOut{}, nil, false
	}
	return protocol.RoomChatOut{
		RoomID: in.RoomID,
		Sender: conn.Identity(),
		Text:   in.Text,
	}, room.Snapshot().Players.Slice(), true
}

// Typing returns the notice broadcast to everyone else when conn starts or
// stops typing.
func (h *ChatHandler) Typing(conn *session.Connection) protocol.UserNotice {
	return protocol.UserNotice{Username: conn.Identity().Username}
}

// SendMessage persists a global chat message from conn.
//
// Precondition: conn must be a registered connection.
// Postcondition: Returns the stored message, chat.ErrEmptyMessage for a blank
// draft, or an error wrapping the store failure.
func (h *ChatHandler) SendMessage(ctx context.Context, conn *session.Connection, in protocol.SendMessage) (chat.Message, error) {
	draft := chat.Draft{
		SenderID:  conn.Identity().ID,
		Text:      in.Text,
		Image:     in.Image,
		YouTubeID: in.YouTubeID,
		Title:     in.Title,
	}
	if _, _, err := draft.Normalize(); err != nil {
		return chat.Message{}, err
	}
	if h.store == nil {
		return chat.Message{}, ErrChatUnavailable
	}
	msg, err := h.store.Append(ctx, draft)
	if err != nil {
		return chat.Message{}, fmt.Errorf("appending chat message: %w", err)
	}
	h.logger.Debug("chat message stored",
		zap.String("message_id", msg.ID),
		zap.String("user_id", draft.SenderID),
		zap.String("kind", string(msg.Kind)),
	)
	return msg, nil
}
