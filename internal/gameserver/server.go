// Package gameserver is the event dispatch layer. It feeds each connection's
// inbound frames, one at a time, into the matchmaking queue, the room
// directory and chat, and publishes the resulting state to the affected
// connections.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/game/match"
	"github.com/cory-johannsen/duel/internal/game/matchmaking"
	"github.com/cory-johannsen/duel/internal/game/session"
	"github.com/cory-johannsen/duel/internal/protocol"
)

// Stream is one client transport carrying encoded frames.
type Stream interface {
	// Recv blocks for the next inbound frame. It returns io.EOF once the
	// client has closed the transport.
	Recv() ([]byte, error)
	// Send writes one outbound frame.
	Send(data []byte) error
	// Close closes the transport, unblocking Recv. It is safe to call twice.
	Close() error
}

// PresenceMirror publishes the online user set outside this process.
//
// Postcondition: Implementations return a non-nil error only on backend failure.
type PresenceMirror interface {
	Join(ctx context.Context, userID string) error
	Leave(ctx context.Context, userID string) error
}

// Server dispatches client events to the matchmaking core.
type Server struct {
	registry   *session.Registry
	rooms      *match.Directory
	queue      *matchmaking.Queue
	chatH      *ChatHandler
	presence   PresenceMirror
	sendBuffer int
	logger     *zap.Logger
	newConnID  func() string
}

// NewServer creates a Server with the given dependencies.
//
// Precondition: registry, rooms, queue, chatH, and logger must be non-nil.
// presence may be nil (the online set is not mirrored).
// Postcondition: Returns a Server whose connections buffer sendBuffer events.
func NewServer(
	registry *session.Registry,
	rooms *match.Directory,
	queue *matchmaking.Queue,
	chatH *ChatHandler,
	presence PresenceMirror,
	sendBuffer int,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:   registry,
		rooms:      rooms,
		queue:      queue,
		chatH:      chatH,
		presence:   presence,
		sendBuffer: sendBuffer,
		logger:     logger,
		newConnID:  uuid.NewString,
	}
}

// Serve runs one authenticated connection until its transport closes or ctx
// is cancelled.
// Flow:
//  1. Register the connection and announce presence
//  2. Spawn goroutine to forward queued events to the stream
//  3. Main loop: read frames and dispatch them in arrival order
//  4. On exit: reconcile queue, registry and rooms exactly once
func (s *Server) Serve(ctx context.Context, identity auth.Identity, stream Stream) error {
	conn := session.NewConnection(s.newConnID(), identity, s.sendBuffer)

	// Step 1: Register and announce
	presence, err := s.registry.Register(conn)
	if err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}
	defer s.cleanupConnection(conn)

	s.logger.Info("connection joined",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", identity.ID),
		zap.String("username", identity.Username),
		zap.Int("online", presence.Count),
	)
	s.broadcast(protocol.TypeOnlineCount, protocol.OnlineCount{Count: presence.Count}, "")
	if presence.Changed {
		s.broadcast(protocol.TypeUserJoined, protocol.UserNotice{Username: identity.Username}, conn.ID())
		s.mirrorPresence(identity.ID, true)
	}

	// Step 2: Forward events
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forwardEvents(ctx, conn, stream)
	}()

	// Step 3: Event loop
	err = s.eventLoop(ctx, conn, stream)

	// Step 4: Cleanup happens via defer
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// eventLoop processes inbound frames until the stream ends.
func (s *Server) eventLoop(ctx context.Context, conn *session.Connection, stream Stream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("receiving frame: %w", err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Debug("dropping malformed frame",
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
			continue
		}

		if err := s.dispatch(ctx, conn, env); err != nil {
			s.logger.Warn("handling event",
				zap.String("conn_id", conn.ID()),
				zap.String("type", env.Type),
				zap.Error(err),
			)
			s.sendTo(conn.ID(), protocol.TypeError, protocol.Error{Message: clientMessage(err)})
		}
	}
}

// dispatch routes an envelope to the appropriate handler. Only collaborator
// failures are returned; illegal game actions are dropped.
func (s *Server) dispatch(ctx context.Context, conn *session.Connection, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeFindMatch:
		s.handleFindMatch(conn)
	case protocol.TypeMakeMove:
		var req protocol.MakeMove
		if err := env.Bind(&req); err != nil {
			s.logger.Debug("bad makeMove", zap.String("conn_id", conn.ID()), zap.Error(err))
			return nil
		}
		s.handleMakeMove(conn, req)
	case protocol.TypeRematchVote:
		var req protocol.RoomRef
		if err := env.Bind(&req); err != nil {
			s.logger.Debug("bad rematchVote", zap.String("conn_id", conn.ID()), zap.Error(err))
			return nil
		}
		s.handleRematchVote(conn, req)
	case protocol.TypeRoomChat:
		var req protocol.RoomChatIn
		if err := env.Bind(&req); err != nil {
			s.logger.Debug("bad roomChat", zap.String("conn_id", conn.ID()), zap.Error(err))
			return nil
		}
		s.handleRoomChat(conn, req)
	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		s.broadcast(env.Type, s.chatH.Typing(conn), conn.ID())
	case protocol.TypeSendMessage:
		var req protocol.SendMessage
		if err := env.Bind(&req); err != nil {
			s.logger.Debug("bad sendMessage", zap.String("conn_id", conn.ID()), zap.Error(err))
			return nil
		}
		return s.handleSendMessage(ctx, conn, req)
	default:
		s.logger.Debug("unknown event type",
			zap.String("conn_id", conn.ID()),
			zap.String("type", env.Type),
		)
	}
	return nil
}

func (s *Server) handleFindMatch(conn *session.Connection) {
	if room, ok := s.rooms.RoomOf(conn.ID()); ok {
		proceed := room.Leave(conn, func(other match.Player) {
			s.sendTo(other.ID(), protocol.TypeRoomClosed, protocol.RoomClosed{
				RoomID: room.ID(),
				Reason: protocol.ReasonOpponentLeft,
			})
		})
		if !proceed {
			s.logger.Debug("findMatch while playing",
				zap.String("conn_id", conn.ID()),
				zap.String("room_id", room.ID()),
			)
			return
		}
		s.rooms.Remove(room.ID())
	}

	// Each pass either returns or consumes one queue entry, so this ends.
	for {
		res := s.queue.RequestMatch(conn)
		switch res.Outcome {
		case matchmaking.Ignored:
			s.logger.Debug("findMatch ignored", zap.String("conn_id", conn.ID()))
			return
		case matchmaking.Waiting:
			s.logger.Debug("connection waiting",
				zap.String("conn_id", conn.ID()),
				zap.Int("skipped", res.Skipped),
			)
			s.sendTo(conn.ID(), protocol.TypeWaiting, nil)
			return
		}

		announced := res.Room.Announce(func(snap match.Snapshot) {
			s.sendToPlayers(snap.Players.Slice(), protocol.TypeMatchFound, protocol.MatchFound{
				RoomID:  snap.RoomID,
				Turn:    snap.Turn,
				Players: snap.Players.Identities(),
			})
		})
		if announced {
			snap := res.Room.Snapshot()
			s.logger.Info("match found",
				zap.String("room_id", snap.RoomID),
				zap.String("x", snap.Players.X.ID()),
				zap.String("o", snap.Players.O.ID()),
				zap.Int("skipped", res.Skipped),
			)
			return
		}
		// The opponent left between pairing and announcement.
		s.rooms.Remove(res.Room.ID())
	}
}

func (s *Server) handleMakeMove(conn *session.Connection, req protocol.MakeMove) {
	room, ok := s.rooms.Get(req.RoomID)
	if !ok || req.CellIndex == nil {
		s.logger.Debug("move ignored",
			zap.String("conn_id", conn.ID()),
			zap.String("room_id", req.RoomID),
		)
		return
	}
	_, ok = room.ApplyMove(conn, *req.CellIndex, func(out match.MoveOutcome) {
		players := out.Players.Slice()
		if out.Terminal() {
			board := out.Board
			s.sendToPlayers(players, protocol.TypeGameOver, protocol.GameOver{
				RoomID: out.RoomID,
				Result: out.Result,
				Board:  &board,
				Winner: out.Winner,
			})
			return
		}
		s.sendToPlayers(players, protocol.TypeGameUpdate, protocol.GameUpdate{
			RoomID: out.RoomID,
			Board:  out.Board,
			Turn:   out.Turn,
		})
	})
	if !ok {
		s.logger.Debug("illegal move",
			zap.String("conn_id", conn.ID()),
			zap.String("room_id", req.RoomID),
			zap.Int("cell", *req.CellIndex),
		)
	}
}

func (s *Server) handleRematchVote(conn *session.Connection, req protocol.RoomRef) {
	room, ok := s.rooms.Get(req.RoomID)
	if !ok {
		return
	}
	_, started := room.Vote(conn, func(snap match.Snapshot) {
		s.sendToPlayers(snap.Players.Slice(), protocol.TypeRematchStarted, protocol.RematchStarted{
			RoomID:  snap.RoomID,
			Board:   snap.Board,
			Turn:    snap.Turn,
			Players: snap.Players.Identities(),
		})
	})
	if started {
		s.logger.Info("rematch started", zap.String("room_id", req.RoomID))
	}
}

func (s *Server) handleRoomChat(conn *session.Connection, req protocol.RoomChatIn) {
	out, recipients, ok := s.chatH.RoomChat(conn, req)
	if !ok {
		return
	}
	s.sendToPlayers(recipients, protocol.TypeRoomChat, out)
}

func (s *Server) handleSendMessage(ctx context.Context, conn *session.Connection, req protocol.SendMessage) error {
	msg, err := s.chatH.SendMessage(ctx, conn, req)
	if errors.Is(err, chat.ErrEmptyMessage) {
		return nil
	}
	if err != nil {
		return err
	}
	s.broadcast(protocol.TypeNewMessage, protocol.NewMessage{Message: msg}, "")
	return nil
}

// cleanupConnection reconciles every registry with a departed connection.
// It runs once, on the connection's own goroutine, after its last event.
func (s *Server) cleanupConnection(conn *session.Connection) {
	// Closing first makes a concurrent RequestMatch treat the entry as stale.
	_ = conn.Close()

	dequeued := s.queue.Remove(conn.ID())

	if _, presence, ok := s.registry.Unregister(conn.ID()); ok {
		s.broadcast(protocol.TypeOnlineCount, protocol.OnlineCount{Count: presence.Count}, "")
		if presence.Changed {
			s.broadcast(protocol.TypeUserLeft, protocol.UserNotice{Username: conn.Identity().Username}, conn.ID())
			s.mirrorPresence(conn.Identity().ID, false)
		}
	}

	roomID := ""
	if room, ok := s.rooms.RoomOf(conn.ID()); ok {
		roomID = room.ID()
		room.Forfeit(conn, func(winner match.Player) {
			w := winner.Identity()
			s.sendTo(winner.ID(), protocol.TypeGameOver, protocol.GameOver{
				RoomID: room.ID(),
				Result: match.ResultOpponentLeft,
				Winner: &w,
			})
		})
		s.rooms.Remove(room.ID())
	}

	s.logger.Info("connection left",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", conn.Identity().ID),
		zap.Bool("dequeued", dequeued),
		zap.String("forfeited_room", roomID),
	)
}

// forwardEvents drains the connection's event buffer onto the stream. It
// closes the stream on exit so a blocked Recv returns.
func (s *Server) forwardEvents(ctx context.Context, conn *session.Connection, stream Stream) {
	defer func() { _ = stream.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-conn.Events():
			if !ok {
				return
			}
			if err := stream.Send(data); err != nil {
				s.logger.Debug("forward event send failed",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
				return
			}
		}
	}
}

// sendTo encodes an event and pushes it to one live connection.
func (s *Server) sendTo(connID, eventType string, payload any) {
	data, ok := s.encode(eventType, payload)
	if !ok {
		return
	}
	s.push(connID, eventType, data)
}

// sendToPlayers encodes an event once and pushes it to each player.
func (s *Server) sendToPlayers(players []match.Player, eventType string, payload any) {
	data, ok := s.encode(eventType, payload)
	if !ok {
		return
	}
	for _, p := range players {
		s.push(p.ID(), eventType, data)
	}
}

func (s *Server) push(connID, eventType string, data []byte) {
	conn, ok := s.registry.Get(connID)
	if !ok {
		return
	}
	if err := conn.Push(data); err != nil {
		s.logger.Warn("push to connection failed",
			zap.String("conn_id", connID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// broadcast pushes an event to every connection except the one with id except.
func (s *Server) broadcast(eventType string, payload any, except string) {
	data, ok := s.encode(eventType, payload)
	if !ok {
		return
	}
	for _, id := range s.registry.Broadcast(data, except) {
		s.logger.Warn("broadcast push failed",
			zap.String("conn_id", id),
			zap.String("type", eventType),
		)
	}
}

func (s *Server) encode(eventType string, payload any) ([]byte, bool) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		s.logger.Error("encoding event", zap.String("type", eventType), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (s *Server) mirrorPresence(userID string, online bool) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if online {
		err = s.presence.Join(ctx, userID)
	} else {
		err = s.presence.Leave(ctx, userID)
	}
	if err != nil {
		s.logger.Warn("mirroring presence",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

// clientMessage maps a handler error to text safe to show the client.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrMessageTooLong):
		return "message too long"
	case errors.Is(err, ErrChatUnavailable):
		return "chat is unavailable"
	default:
		return "request failed"
	}
}

// OnlineCount returns the number of distinct online users.
func (s *Server) OnlineCount() int {
	return s.registry.OnlineCount()
}
