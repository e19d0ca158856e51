package space

import "errors"

// Movement rejection reasons. The error text is sent to the client verbatim.
var (
	ErrOutOfBounds = errors.New("out of bounds")
	ErrInvalidStep = errors.New("invalid step")
	ErrBlocked     = errors.New("blocked")
)

// Validate decides whether an occupant at current may step to target.
// Checks run in order: bounds, then unit Manhattan distance. A zero-length
// move is an invalid step.
//
// Postcondition: Returns the resulting facing and nil, or "" and one of
// ErrOutOfBounds or ErrInvalidStep.
func Validate(current, target Position, bounds Bounds) (Direction, error) {
	if !bounds.Contains(target) {
		return "", ErrOutOfBounds
	}
	dx, dy := target.X-current.X, target.Y-current.Y
	if abs(dx)+abs(dy) != 1 {
		return "", ErrInvalidStep
	}
	switch {
	case dx > 0:
		return Right, nil
	case dx < 0:
		return Left, nil
	case dy > 0:
		return Down, nil
	default:
		return Up, nil
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ValidateMove applies Validate against d's bounds and, when collide is set,
// rejects targets covered by a static element with ErrBlocked.
func (d *Descriptor) ValidateMove(current, target Position, collide bool) (Direction, error) {
	facing, err := Validate(current, target, d.Bounds)
	if err != nil {
		return "", err
	}
	if collide && d.StaticAt(target) {
		return "", ErrBlocked
	}
	return facing, nil
}
