package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/plaza/internal/presence"
	"github.com/cory-johannsen/plaza/internal/protocol"
	"github.com/cory-johannsen/plaza/internal/room"
	"github.com/cory-johannsen/plaza/internal/space"
)

// ErrFatalJoin is wrapped by Handle when a join cannot complete. The transport
// must close the connection.
var ErrFatalJoin = errors.New("join failed")

// errSessionClosed aborts a join that raced with Close.
var errSessionClosed = errors.New("session closed")

// State is the protocol state of a session.
type State int

const (
	Unbound State = iota
	Joined
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Session is the server side of one client connection. Handle must be called
// from a single goroutine; Close and the room.Occupant methods may be called
// from any goroutine.
type Session struct {
	id      string
	mgr     *Manager
	outbox  *Outbox
	limiter *rate.Limiter
	logger  *zap.Logger

	// mu guards the fields below. It is never held while calling into a room,
	// because rooms read occupant state under their own lock.
	mu     sync.Mutex
	state  State
	userID string
	room   *room.Room
	pos    space.Position
	facing space.Direction

	closeOnce sync.Once
}

// ConnID returns the connection id.
func (s *Session) ConnID() string { return s.id }

// UserID returns the durable user id, or "" before join.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Push queues a frame for this connection.
func (s *Session) Push(data []byte) error { return s.outbox.Push(data) }

// Outbox returns the outbound queue drained by the transport.
func (s *Session) Outbox() *Outbox { return s.outbox }

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Location returns the current position and facing.
func (s *Session) Location() (space.Position, space.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.facing
}

// SpaceID returns the joined space id, or "".
func (s *Session) SpaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID()
}

// Handle decodes and processes one client frame.
//
// Postcondition: Returns an error wrapping ErrFatalJoin when the connection
// must be closed; every other outcome, including malformed or disallowed
// input, returns nil.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	action, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Debug("dropping malformed frame", zap.Error(err))
		return nil
	}

	state := s.State()
	_, isJoin := action.(*protocol.Join)
	switch {
	case state == Closed:
		return nil
	case state == Unbound && !isJoin:
		s.logger.Debug("dropping action before join", zap.String("type", action.Type()))
		return nil
	case state == Joined && isJoin:
		s.logger.Debug("dropping join on joined session")
		return nil
	case state == Joined && s.limiter != nil && !s.limiter.Allow():
		s.logger.Debug("rate limited", zap.String("type", action.Type()))
		return nil
	}

	return action.Accept(&dispatcher{s: s, ctx: ctx})
}

// Close runs the departure path once: the session leaves its room, peers are
// told, presence is cleared, and the outbox is closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasJoined := s.state == Joined
		rm, userID := s.room, s.userID
		s.state = Closed
		s.mu.Unlock()

		if wasJoined {
			rm.Leave(s.id, protocol.MustEncode(protocol.UserLeft{UserID: userID}))
			if _, stillHere := s.mgr.registry.FindByUserID(userID); !stillHere {
				s.mgr.presence.Clear(userID)
			}
		}
		s.outbox.Close()
		s.mgr.forget(s.id)
		s.logger.Debug("session closed", zap.Bool("was_joined", wasJoined))
	})
}

// occupantView renders another room member for a snapshot.
func (s *Session) occupantView(o room.Occupant) protocol.Occupant {
	view := protocol.Occupant{UserID: o.UserID()}
	if l, ok := o.(interface {
		Location() (space.Position, space.Direction)
	}); ok {
		view.Position, view.Facing = l.Location()
	}
	if e, ok := s.mgr.presence.Get(view.UserID, presence.Emoji); ok {
		view.Emoji = e.Glyph
	}
	return view
}
