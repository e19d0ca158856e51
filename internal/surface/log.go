package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrDuplicateID is returned when appending an entry whose id is already in the log.
var ErrDuplicateID = errors.New("duplicate shape id")

// Entry is one element of the surface log.
type Entry struct {
	ID        string `json:"id"`
	CreatedBy string `json:"createdBy,omitempty"`
	Shape     Shape  `json:"shape"`
}

// History supplies the previously persisted log of a space.
type History interface {
	// History returns entries oldest first.
	History(ctx context.Context, spaceID string) ([]Entry, error)
}

// Log is the ordered surface log of one space. It is safe for concurrent use;
// callers that must order broadcasts with mutations serialize above it.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	ids     map[string]struct{}
}

// NewLog creates a log seeded with history. Entries with a duplicate id or an
// invalid shape are skipped.
func NewLog(history []Entry) *Log {
	l := &Log{ids: make(map[string]struct{}, len(history))}
	for _, e := range history {
		_, _ = l.Append(e)
	}
	return l
}

// Append adds e to the top of the log. An empty id is replaced by a new UUID.
//
// Postcondition: On success the returned entry is the last element of Replay.
// Returns ErrDuplicateID or an error wrapping ErrInvalidShape otherwise.
func (l *Log) Append(e Entry) (Entry, error) {
	if err := e.Shape.Validate(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[e.ID]; dup {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	l.ids[e.ID] = struct{}{}
	l.entries = append(l.entries, e)
	return e, nil
}

// Erase removes the most recently appended entry hit by p within Tolerance.
//
// Postcondition: At most one entry is removed. ok is false and the log is
// unchanged when nothing is hit.
func (l *Log) Erase(p Point) (removed Entry, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !l.entries[i].Shape.Hit(p, Tolerance) {
			continue
		}
		removed = l.entries[i]
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		delete(l.ids, removed.ID)
		return removed, true
	}
	return Entry{}, false
}

// Replay returns a copy of the log, oldest first.
func (l *Log) Replay() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
