package session

import "github.com/cory-johannsen/plaza/internal/space"

// chooseSpawn picks a uniformly random cell that is neither covered by a
// static element nor taken, trying at most attempts times. When every attempt
// lands on an unavailable cell it settles for any random in-bounds cell.
//
// Precondition: desc.Bounds has positive width and height; intn returns [0,n).
func chooseSpawn(desc *space.Descriptor, taken map[space.Position]bool, attempts int, intn func(int) int) space.Position {
	b := desc.Bounds
	for i := 0; i < attempts; i++ {
		p := space.Position{X: intn(b.Width), Y: intn(b.Height)}
		if !taken[p] && !desc.StaticAt(p) {
			return p
		}
	}
	return space.Position{X: intn(b.Width), Y: intn(b.Height)}
}
