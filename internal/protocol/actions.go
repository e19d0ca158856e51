package protocol

import (
	"encoding/json"
	"errors"

	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// Client action type names.
const (
	TypeJoin        = "join"
	TypeMove        = "move"
	TypeChat        = "chat"
	TypeTyping      = "typing"
	TypeEmoji       = "emoji"
	TypeSignal      = "signal"
	TypeDraw        = "draw"
	TypeErase       = "erase"
	TypeSurfaceSync = "surface-sync"
)

// Action is a decoded client request. The set is closed: only types in this
// package implement it, and handlers receive them through ActionVisitor so a
// new action cannot be added without every visitor handling it.
type Action interface {
	Type() string
	Accept(v ActionVisitor) error
	validate() error
}

// ActionVisitor handles each action kind.
type ActionVisitor interface {
	VisitJoin(*Join) error
	VisitMove(*Move) error
	VisitChat(*Chat) error
	VisitTyping(*Typing) error
	VisitEmoji(*Emoji) error
	VisitSignal(*Signal) error
	VisitDraw(*Draw) error
	VisitErase(*Erase) error
	VisitSurfaceSync(*SurfaceSync) error
}

var actionTypes = map[string]func() Action{
	TypeJoin:        func() Action { return &Join{} },
	TypeMove:        func() Action { return &Move{} },
	TypeChat:        func() Action { return &Chat{} },
	TypeTyping:      func() Action { return &Typing{} },
	TypeEmoji:       func() Action { return &Emoji{} },
	TypeSignal:      func() Action { return &Signal{} },
	TypeDraw:        func() Action { return &Draw{} },
	TypeErase:       func() Action { return &Erase{} },
	TypeSurfaceSync: func() Action { return &SurfaceSync{} },
}

// Join binds an unbound connection to a space.
type Join struct {
	SpaceID string `json:"spaceId"`
	Token   string `json:"token"`
}

func (*Join) Type() string                   { return TypeJoin }
func (a *Join) Accept(v ActionVisitor) error { return v.VisitJoin(a) }
func (*Join) validate() error                { return nil }

// Move requests a step to (X, Y).
type Move struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (*Move) Type() string                   { return TypeMove }
func (a *Move) Accept(v ActionVisitor) error { return v.VisitMove(a) }
// Target returns the requested cell. ok is false when either coordinate is missing.
func (a *Move) Target() (target space.Position, ok bool) {
	if a.X == nil || a.Y == nil {
		return space.Position{}, false
	}
	return space.Position{X: *a.X, Y: *a.Y}, true
}

func (a *Move) validate() error {
	if a.X == nil || a.Y == nil {
		return errors.New("x and y are required")
	}
	return nil
}

// Chat is a room-wide text message.
type Chat struct {
	Message string `json:"message"`
}

func (*Chat) Type() string                   { return TypeChat }
func (a *Chat) Accept(v ActionVisitor) error { return v.VisitChat(a) }
func (a *Chat) validate() error {
	if a.Message == "" {
		return errors.New("message must not be empty")
	}
	return nil
}

// Typing signals that the sender is composing a message.
type Typing struct{}

func (*Typing) Type() string                   { return TypeTyping }
func (a *Typing) Accept(v ActionVisitor) error { return v.VisitTyping(a) }
func (*Typing) validate() error                { return nil }

// Emoji is a short-lived reaction glyph.
type Emoji struct {
	Emoji string `json:"emoji"`
}

func (*Emoji) Type() string                   { return TypeEmoji }
func (a *Emoji) Accept(v ActionVisitor) error { return v.VisitEmoji(a) }
func (a *Emoji) validate() error {
	if a.Emoji == "" {
		return errors.New("emoji must not be empty")
	}
	return nil
}

// Signal carries an opaque WebRTC signaling blob for another user.
type Signal struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

func (*Signal) Type() string                   { return TypeSignal }
func (a *Signal) Accept(v ActionVisitor) error { return v.VisitSignal(a) }
func (a *Signal) validate() error {
	if a.To == "" {
		return errors.New("to is required")
	}
	if len(a.Signal) == 0 {
		return errors.New("signal is required")
	}
	return nil
}

// Draw appends a shape to the surface log. ID is optional.
type Draw struct {
	ID    string        `json:"id,omitempty"`
	Shape surface.Shape `json:"shape"`
}

func (*Draw) Type() string                   { return TypeDraw }
func (a *Draw) Accept(v ActionVisitor) error { return v.VisitDraw(a) }
func (a *Draw) validate() error              { return a.Shape.Validate() }

// Erase removes the topmost shape under (X, Y).
type Erase struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (*Erase) Type() string                   { return TypeErase }
func (a *Erase) Accept(v ActionVisitor) error { return v.VisitErase(a) }
func (*Erase) validate() error                { return nil }

// SurfaceSync asks for the full surface log.
type SurfaceSync struct{}

func (*SurfaceSync) Type() string                   { return TypeSurfaceSync }
func (a *SurfaceSync) Accept(v ActionVisitor) error { return v.VisitSurfaceSync(a) }
func (*SurfaceSync) validate() error                { return nil }
