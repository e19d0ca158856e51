// Package space provides the 2D space model: grid positions, bounds, static
// elements, and the pure movement validator.
package space

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Lookup when no space has the requested id.
var ErrNotFound = errors.New("space not found")

// Direction is the facing of an occupant after a move.
type Direction string

// The four grid directions. Y grows downward.
const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Valid reports whether d is one of the four grid directions.
func (d Direction) Valid() bool {
	switch d {
	case Up, Down, Left, Right:
		return true
	}
	return false
}

// Position is an integer grid cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bounds is the playable extent of a space. Valid cells are [0,Width) x [0,Height).
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p lies inside b.
func (b Bounds) Contains(p Position) bool {
	return p.X >= 0 && p.X < b.Width && p.Y >= 0 && p.Y < b.Height
}

// Cells returns the number of cells in b.
func (b Bounds) Cells() int {
	return b.Width * b.Height
}

// Element is an object placed in a space. Static elements block spawning and,
// when collision is enabled, movement.
type Element struct {
	ID       string `json:"id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Static   bool   `json:"static"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Covers reports whether p falls inside the element's footprint.
func (e Element) Covers(p Position) bool {
	w, h := e.Width, e.Height
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return p.X >= e.X && p.X < e.X+w && p.Y >= e.Y && p.Y < e.Y+h
}

// Descriptor is the immutable definition of a space as fetched from a store.
type Descriptor struct {
	ID       string
	Name     string
	Bounds   Bounds
	Elements []Element
}

// StaticAt reports whether any static element covers p.
func (d *Descriptor) StaticAt(p Position) bool {
	for _, e := range d.Elements {
		if e.Static && e.Covers(p) {
			return true
		}
	}
	return false
}

// Validate checks descriptor invariants.
//
// Postcondition: Returns nil if the descriptor has an id and positive bounds.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("space id must not be empty")
	}
	if d.Bounds.Width < 1 || d.Bounds.Height < 1 {
		return fmt.Errorf("space %q bounds must be positive, got %dx%d", d.ID, d.Bounds.Width, d.Bounds.Height)
	}
	seen := make(map[string]bool, len(d.Elements))
	for _, e := range d.Elements {
		if e.ID == "" {
			return fmt.Errorf("space %q has an element with empty id", d.ID)
		}
		if seen[e.ID] {
			return fmt.Errorf("space %q has duplicate element id %q", d.ID, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Lookup resolves a space id to its descriptor.
type Lookup interface {
	// Lookup returns the descriptor for id, or an error wrapping ErrNotFound.
	Lookup(ctx context.Context, id string) (*Descriptor, error)
}
