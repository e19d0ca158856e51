// Package room provides the registry of live spaces and their occupants, and
// fans events out to the members of a space.
package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// Occupant is a joined connection as seen by the registry.
type Occupant interface {
	// ConnID is unique per connection and never reused.
	ConnID() string
	// UserID is the durable identity. Several connections may share one.
	UserID() string
	// Push enqueues a frame without blocking.
	Push(data []byte) error
}

// Loader fetches everything needed to open a space the first time it is joined.
type Loader interface {
	Load(ctx context.Context, spaceID string) (*space.Descriptor, []surface.Entry, error)
}

// Registry maps space ids to live rooms. Rooms are created on first join and
// live for the rest of the process. All methods are safe for concurrent use.
type Registry struct {
	loader Loader
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
	seq   atomic.Uint64
}

// NewRegistry creates an empty Registry.
//
// Precondition: loader and logger must be non-nil.
func NewRegistry(loader Loader, logger *zap.Logger) *Registry {
	return &Registry{
		loader: loader,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// Open returns the live room for spaceID, loading it on first use.
// The loader runs without any registry lock held; if two callers race on a
// new room, the first to publish wins and the other's load is discarded.
//
// Postcondition: Returns the room, or the loader's error with no room created.
func (r *Registry) Open(ctx context.Context, spaceID string) (*Room, error) {
	if rm, ok := r.Room(spaceID); ok {
		return rm, nil
	}

	desc, history, err := r.loader.Load(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("opening space %q: %w", spaceID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[spaceID]; ok {
		return rm, nil
	}
	rm := &Room{
		id:        spaceID,
		desc:      desc,
		surface:   surface.NewLog(history),
		occupants: make(map[string]member),
		registry:  r,
		logger:    r.logger.With(zap.String("space", spaceID)),
	}
	r.rooms[spaceID] = rm
	r.logger.Info("space opened",
		zap.String("space", spaceID),
		zap.Int("surface_entries", rm.surface.Len()),
	)
	return rm, nil
}

// Room returns the live room for spaceID without loading it.
func (r *Registry) Room(spaceID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[spaceID]
	return rm, ok
}

// BroadcastExcept pushes data to every occupant of spaceID except senderConnID.
func (r *Registry) BroadcastExcept(spaceID string, data []byte, senderConnID string) {
	if rm, ok := r.Room(spaceID); ok {
		rm.BroadcastExcept(data, senderConnID)
	}
}

// BroadcastAll pushes data to every occupant of spaceID.
func (r *Registry) BroadcastAll(spaceID string, data []byte) {
	if rm, ok := r.Room(spaceID); ok {
		rm.BroadcastAll(data)
	}
}

// FindByUserID scans every room for a connection bound to userID. When a user
// holds several connections the earliest-joined one is returned.
func (r *Registry) FindByUserID(userID string) (Occupant, bool) {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	var best member
	found := false
	for _, rm := range rooms {
		if m, ok := rm.earliest(userID); ok && (!found || m.seq < best.seq) {
			best, found = m, true
		}
	}
	if !found {
		return nil, false
	}
	return best.occ, true
}

// Stats reports the number of open rooms and joined connections.
func (r *Registry) Stats() (rooms, occupants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rm := range r.rooms {
		occupants += rm.Len()
	}
	return len(r.rooms), occupants
}
