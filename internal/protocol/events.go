package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// Server event type names.
const (
	TypeJoinedSnapshot   = "joined-snapshot"
	TypeUserJoined       = "user-joined"
	TypeMovement         = "movement"
	TypeMovementRejected = "movement-rejected"
	TypeUserLeft         = "user-left"
	TypeChatMessage      = "chat-message"
	TypeTypingIndicator  = "typing"
	TypeEmojiReaction    = "emoji-reaction"
	TypeVideoSignal      = "video-signal"
	TypeDrawDelta        = "draw-delta"
	TypeDrawSync         = "draw-sync"
)

// Occupant describes another member of the space in a snapshot.
type Occupant struct {
	UserID   string          `json:"userId"`
	Position space.Position  `json:"position"`
	Facing   space.Direction `json:"facing"`
	// Emoji is the occupant's live reaction, if any.
	Emoji string `json:"emoji,omitempty"`
}

// JoinedSnapshot is sent privately to a session after a successful join.
type JoinedSnapshot struct {
	UserID       string          `json:"userId"`
	ConnectionID string          `json:"connectionId"`
	SpaceID      string          `json:"spaceId"`
	Spawn        space.Position  `json:"spawn"`
	Facing       space.Direction `json:"facing"`
	Bounds       space.Bounds    `json:"bounds"`
	Occupants    []Occupant      `json:"occupants"`
	Elements     []space.Element `json:"elements"`
	Surface      []surface.Entry `json:"surface"`
}

func (JoinedSnapshot) EventType() string { return TypeJoinedSnapshot }

// UserJoined announces a new occupant.
type UserJoined struct {
	UserID   string          `json:"userId"`
	Position space.Position  `json:"position"`
	Facing   space.Direction `json:"facing"`
}

func (UserJoined) EventType() string { return TypeUserJoined }

// Movement announces an accepted step.
type Movement struct {
	UserID   string          `json:"userId"`
	Position space.Position  `json:"position"`
	Facing   space.Direction `json:"facing"`
}

func (Movement) EventType() string { return TypeMovement }

// MovementRejected returns the authoritative state to the mover.
type MovementRejected struct {
	Position space.Position  `json:"position"`
	Facing   space.Direction `json:"facing"`
	Reason   string          `json:"reason"`
}

func (MovementRejected) EventType() string { return TypeMovementRejected }

// UserLeft announces a departure.
type UserLeft struct {
	UserID string `json:"userId"`
}

func (UserLeft) EventType() string { return TypeUserLeft }

// ChatMessage is a room-wide message. Timestamp is unix milliseconds.
type ChatMessage struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (ChatMessage) EventType() string { return TypeChatMessage }

// TypingIndicator tells peers the user is typing until ExpiresAt (unix ms).
type TypingIndicator struct {
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (TypingIndicator) EventType() string { return TypeTypingIndicator }

// EmojiReaction shows a glyph over the user until ExpiresAt (unix ms).
type EmojiReaction struct {
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (EmojiReaction) EventType() string { return TypeEmojiReaction }

// VideoSignal relays a signaling blob byte-for-byte. Its frame is spliced
// together so Signal is never compacted or escaped.
type VideoSignal struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

func (VideoSignal) EventType() string { return TypeVideoSignal }

func (v VideoSignal) frame() ([]byte, error) {
	signal := v.Signal
	if len(signal) == 0 {
		signal = json.RawMessage("null")
	}
	if !json.Valid(signal) {
		return nil, fmt.Errorf("encoding %s payload: signal is not valid JSON", TypeVideoSignal)
	}
	from, err := marshalNoEscape(v.From)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", TypeVideoSignal, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(signal) + len(from) + 64)
	buf.WriteString(`{"type":"` + TypeVideoSignal + `","payload":{"from":`)
	buf.Write(from)
	buf.WriteString(`,"signal":`)
	buf.Write(signal)
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// DrawDelta carries one appended surface entry.
type DrawDelta struct {
	Entry surface.Entry `json:"entry"`
}

func (DrawDelta) EventType() string { return TypeDrawDelta }

// DrawSync carries the complete surface log. RemovedID names the erased entry, if any.
type DrawSync struct {
	Entries   []surface.Entry `json:"entries"`
	RemovedID string          `json:"removedId,omitempty"`
}

func (DrawSync) EventType() string { return TypeDrawSync }
