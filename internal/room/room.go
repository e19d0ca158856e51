package room

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/protocol"
	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// ErrAlreadyJoined is returned when a connection id is already a member.
var ErrAlreadyJoined = errors.New("connection already joined")

type member struct {
	occ Occupant
	seq uint64
}

// Room is one live space. Every membership change, broadcast, and surface
// mutation takes the room lock, so all members observe a single order of events.
type Room struct {
	id       string
	desc     *space.Descriptor
	registry *Registry
	logger   *zap.Logger

	mu        sync.Mutex
	occupants map[string]member
	surface   *surface.Log
}

// ID returns the space id.
func (rm *Room) ID() string { return rm.id }

// Descriptor returns the descriptor loaded when the room opened. It never changes.
func (rm *Room) Descriptor() *space.Descriptor { return rm.desc }

// Welcome builds the frames for a joining occupant. It runs under the room
// lock with the members already present and the current surface log, and
// returns the private frame for the joiner and the announcement for the rest.
type Welcome func(others []Occupant, entries []surface.Entry) (private, announce []byte, err error)

// Join adds occ to the room. The private frame is queued to occ before any
// other room event can reach it, and the announcement goes to every other member.
//
// Postcondition: On success occ is a member and has been sent its private frame.
// On error the room is unchanged.
func (rm *Room) Join(occ Occupant, welcome Welcome) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.occupants[occ.ConnID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, occ.ConnID())
	}

	others := make([]Occupant, 0, len(rm.occupants))
	for _, m := range rm.ordered() {
		others = append(others, m.occ)
	}
	private, announce, err := welcome(others, rm.surface.Replay())
	if err != nil {
		return err
	}

	rm.occupants[occ.ConnID()] = member{occ: occ, seq: rm.registry.seq.Add(1)}
	rm.push(occ, private)
	rm.fanout(announce, occ.ConnID())

	rm.logger.Info("occupant joined",
		zap.String("conn_id", occ.ConnID()),
		zap.String("user_id", occ.UserID()),
		zap.Int("occupants", len(rm.occupants)),
	)
	return nil
}

// Leave removes connID and sends announce to the remaining members.
//
// Postcondition: Returns false and sends nothing if connID was not a member.
func (rm *Room) Leave(connID string, announce []byte) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.occupants[connID]
	if !ok {
		return false
	}
	delete(rm.occupants, connID)
	rm.fanout(announce, connID)

	rm.logger.Info("occupant left",
		zap.String("conn_id", connID),
		zap.String("user_id", m.occ.UserID()),
		zap.Int("occupants", len(rm.occupants)),
	)
	return true
}

// BroadcastExcept pushes data to every member except senderConnID.
func (rm *Room) BroadcastExcept(data []byte, senderConnID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.fanout(data, senderConnID)
}

// BroadcastAll pushes data to every member, including the originator.
func (rm *Room) BroadcastAll(data []byte) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.fanout(data, "")
}

// Draw appends e to the surface log and sends the delta to every member.
//
// Postcondition: Returns the stored entry, or the append error with nothing sent.
func (rm *Room) Draw(e surface.Entry) (surface.Entry, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	stored, err := rm.surface.Append(e)
	if err != nil {
		return surface.Entry{}, err
	}
	rm.fanout(protocol.MustEncode(protocol.DrawDelta{Entry: stored}), "")
	return stored, nil
}

// Erase removes the topmost entry under p. When something is removed the full
// log goes to every member; otherwise only actor receives it.
func (rm *Room) Erase(p surface.Point, actor Occupant) (removedID string, ok bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	removed, ok := rm.surface.Erase(p)
	frame := protocol.MustEncode(protocol.DrawSync{Entries: rm.surface.Replay(), RemovedID: removed.ID})
	if ok {
		rm.fanout(frame, "")
	} else {
		rm.push(actor, frame)
	}
	return removed.ID, ok
}

// Sync sends the full surface log to actor only.
func (rm *Room) Sync(actor Occupant) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.push(actor, protocol.MustEncode(protocol.DrawSync{Entries: rm.surface.Replay()}))
}

// Surface returns a copy of the surface log.
func (rm *Room) Surface() []surface.Entry {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.surface.Replay()
}

// Occupants returns the current members in join order.
func (rm *Room) Occupants() []Occupant {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	ms := rm.ordered()
	out := make([]Occupant, len(ms))
	for i, m := range ms {
		out[i] = m.occ
	}
	return out
}

// Len returns the number of members.
func (rm *Room) Len() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.occupants)
}

func (rm *Room) earliest(userID string) (member, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var best member
	found := false
	for _, m := range rm.occupants {
		if m.occ.UserID() == userID && (!found || m.seq < best.seq) {
			best, found = m, true
		}
	}
	return best, found
}

// ordered returns members sorted by join sequence.
//
// Precondition: rm.mu is held.
func (rm *Room) ordered() []member {
	ms := make([]member, 0, len(rm.occupants))
	for _, m := range rm.occupants {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, func(a, b member) int { return cmp.Compare(a.seq, b.seq) })
	return ms
}

// fanout pushes data to every member except the one with excludeConnID.
// A failed push is logged and skipped.
//
// Precondition: rm.mu is held.
func (rm *Room) fanout(data []byte, excludeConnID string) {
	if data == nil {
		return
	}
	for connID, m := range rm.occupants {
		if connID == excludeConnID {
			continue
		}
		rm.push(m.occ, data)
	}
}

func (rm *Room) push(occ Occupant, data []byte) {
	if data == nil {
		return
	}
	if err := occ.Push(data); err != nil {
		rm.logger.Warn("dropping event for occupant",
			zap.String("conn_id", occ.ConnID()),
			zap.Error(err),
		)
	}
}
