package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/game/match"
	"github.com/cory-johannsen/duel/internal/protocol"
)

// Sweeper expires abandoned queue entries and idle rooms on a fixed interval.
//
// Invariant: a zero timeout disables that half of the sweep.
type Sweeper struct {
	server       *Server
	interval     time.Duration
	queueTimeout time.Duration
	idleTimeout  time.Duration
	now          func() time.Time
}

// NewSweeper returns a Sweeper driven by the matchmaking configuration.
//
// Precondition: s must be non-nil; cfg must have passed Validate.
func NewSweeper(s *Server, cfg config.MatchmakingConfig) *Sweeper {
	return &Sweeper{
		server:       s,
		interval:     cfg.SweepInterval,
		queueTimeout: cfg.QueueTimeout,
		idleTimeout:  cfg.IdleSessionTimeout,
		now:          time.Now,
	}
}

// Enabled reports whether any expiry policy is configured.
func (w *Sweeper) Enabled() bool {
	return w.queueTimeout > 0 || w.idleTimeout > 0
}

// Start runs the sweep loop until ctx is cancelled. With no expiry policy
// configured it only waits for cancellation.
func (w *Sweeper) Start(ctx context.Context) error {
	if !w.Enabled() {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one expiry pass.
//
// Postcondition: Returns the number of queue entries expired and rooms closed.
func (w *Sweeper) Sweep() (expired, closed int) {
	s := w.server
	start := time.Now()

	if w.queueTimeout > 0 {
		for _, waiter := range s.queue.Expire(w.queueTimeout) {
			s.sendTo(waiter.ID(), protocol.TypeQueueExpired, nil)
			expired++
		}
	}

	if w.idleTimeout > 0 {
		for _, room := range s.rooms.Idle(w.now().Add(-w.idleTimeout)) {
			if room.Close(func(snap match.Snapshot) {
				s.sendToPlayers(snap.Players.Slice(), protocol.TypeRoomClosed, protocol.RoomClosed{
					RoomID: snap.RoomID,
					Reason: protocol.ReasonIdle,
				})
			}) {
				closed++
			}
			s.rooms.Remove(room.ID())
		}
	}

	if expired > 0 || closed > 0 {
		s.logger.Info("sweep complete",
			zap.Int("queue_expired", expired),
			zap.Int("rooms_closed", closed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return expired, closed
}
