package room

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/surface"
)

// SourceLoader opens spaces from a descriptor Lookup and an optional surface History.
type SourceLoader struct {
	Spaces  space.Lookup
	History surface.History
}

// Load fetches the descriptor and, when a History is configured, the persisted surface log.
func (l SourceLoader) Load(ctx context.Context, spaceID string) (*space.Descriptor, []surface.Entry, error) {
	desc, err := l.Spaces.Lookup(ctx, spaceID)
	if err != nil {
		return nil, nil, err
	}
	if l.History == nil {
		return desc, nil, nil
	}
	entries, err := l.History.History(ctx, spaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading surface history: %w", err)
	}
	return desc, entries, nil
}
