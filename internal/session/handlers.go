package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/presence"
	"github.com/cory-johannsen/plaza/internal/protocol"
	"github.com/cory-johannsen/plaza/internal/room"
	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// dispatcher routes one decoded action to its handler.
type dispatcher struct {
	s   *Session
	ctx context.Context
}

// joined returns the identity and room of a Joined session.
func (s *Session) joined() (userID string, rm *room.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.room
}

func (d *dispatcher) VisitJoin(a *protocol.Join) error {
	s, m := d.s, d.s.mgr

	userID, err := m.verifier.Verify(d.ctx, a.Token)
	if err != nil {
		s.logger.Info("join rejected: credential", zap.String("space", a.SpaceID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFatalJoin, err)
	}
	rm, err := m.registry.Open(d.ctx, a.SpaceID)
	if err != nil {
		s.logger.Info("join rejected: space", zap.String("space", a.SpaceID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFatalJoin, err)
	}
	desc := rm.Descriptor()

	err = rm.Join(s, func(others []room.Occupant, entries []surface.Entry) ([]byte, []byte, error) {
		views := make([]protocol.Occupant, 0, len(others))
		taken := make(map[space.Position]bool, len(others))
		for _, o := range others {
			v := s.occupantView(o)
			views = append(views, v)
			taken[v.Position] = true
		}
		spawn := chooseSpawn(desc, taken, m.opts.SpawnAttempts, m.opts.IntN)

		private, err := protocol.Encode(protocol.JoinedSnapshot{
			UserID:       userID,
			ConnectionID: s.id,
			SpaceID:      desc.ID,
			Spawn:        spawn,
			Facing:       space.Down,
			Bounds:       desc.Bounds,
			Occupants:    views,
			Elements:     nonNil(desc.Elements),
			Surface:      entries,
		})
		if err != nil {
			return nil, nil, err
		}
		announce := protocol.MustEncode(protocol.UserJoined{UserID: userID, Position: spawn, Facing: space.Down})

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == Closed {
			return nil, nil, errSessionClosed
		}
		s.state = Joined
		s.userID = userID
		s.room = rm
		s.pos = spawn
		s.facing = space.Down
		return private, announce, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalJoin, err)
	}
	return nil
}

func (d *dispatcher) VisitMove(a *protocol.Move) error {
	s := d.s
	target, ok := a.Target()
	if !ok {
		s.logger.Debug("dropping move without coordinates")
		return nil
	}

	s.mu.Lock()
	cur, facing, rm, userID := s.pos, s.facing, s.room, s.userID
	dir, err := rm.Descriptor().ValidateMove(cur, target, s.mgr.opts.CollideStatic)
	if err == nil {
		s.pos, s.facing = target, dir
	}
	s.mu.Unlock()

	if err != nil {
		if perr := s.Push(protocol.MustEncode(protocol.MovementRejected{
			Position: cur,
			Facing:   facing,
			Reason:   err.Error(),
		})); perr != nil {
			s.logger.Warn("dropping movement rejection", zap.Error(perr))
		}
		return nil
	}

	rm.BroadcastExcept(protocol.MustEncode(protocol.Movement{UserID: userID, Position: target, Facing: dir}), s.id)
	return nil
}

func (d *dispatcher) VisitChat(a *protocol.Chat) error {
	userID, rm := d.s.joined()
	rm.BroadcastAll(protocol.MustEncode(protocol.ChatMessage{
		UserID:    userID,
		Message:   a.Message,
		Timestamp: d.s.mgr.opts.Clock().UnixMilli(),
	}))
	return nil
}

func (d *dispatcher) VisitTyping(*protocol.Typing) error {
	userID, rm := d.s.joined()
	e := d.s.mgr.presence.Upsert(userID, presence.Typing, "")
	rm.BroadcastExcept(protocol.MustEncode(protocol.TypingIndicator{
		UserID:    userID,
		ExpiresAt: e.ExpiresAt().UnixMilli(),
	}), d.s.id)
	return nil
}

func (d *dispatcher) VisitEmoji(a *protocol.Emoji) error {
	userID, rm := d.s.joined()
	e := d.s.mgr.presence.Upsert(userID, presence.Emoji, a.Emoji)
	rm.BroadcastAll(protocol.MustEncode(protocol.EmojiReaction{
		UserID:    userID,
		Emoji:     e.Glyph,
		ExpiresAt: e.ExpiresAt().UnixMilli(),
	}))
	return nil
}

func (d *dispatcher) VisitSignal(a *protocol.Signal) error {
	s := d.s
	userID, _ := s.joined()
	if a.To == userID {
		s.logger.Debug("dropping self-addressed signal")
		return nil
	}
	target, ok := s.mgr.registry.FindByUserID(a.To)
	if !ok {
		s.logger.Debug("dropping signal for absent user", zap.String("to", a.To))
		return nil
	}
	if err := target.Push(protocol.MustEncode(protocol.VideoSignal{From: userID, Signal: a.Signal})); err != nil {
		s.logger.Warn("dropping signal", zap.String("to", a.To), zap.Error(err))
	}
	return nil
}

func (d *dispatcher) VisitDraw(a *protocol.Draw) error {
	userID, rm := d.s.joined()
	if _, err := rm.Draw(surface.Entry{ID: a.ID, CreatedBy: userID, Shape: a.Shape}); err != nil {
		d.s.logger.Debug("dropping draw", zap.Error(err))
	}
	return nil
}

func (d *dispatcher) VisitErase(a *protocol.Erase) error {
	_, rm := d.s.joined()
	if id, ok := rm.Erase(surface.Point{X: a.X, Y: a.Y}, d.s); ok {
		d.s.logger.Debug("erased shape", zap.String("shape_id", id))
	}
	return nil
}

func (d *dispatcher) VisitSurfaceSync(*protocol.SurfaceSync) error {
	_, rm := d.s.joined()
	rm.Sync(d.s)
	return nil
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
