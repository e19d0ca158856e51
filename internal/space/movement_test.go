package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidate_Directions(t *testing.T) {
	b := Bounds{Width: 10, Height: 10}
	from := Position{X: 5, Y: 5}

	cases := []struct {
		to   Position
		want Direction
	}{
		{Position{X: 6, Y: 5}, Right},
		{Position{X: 4, Y: 5}, Left},
		{Position{X: 5, Y: 6}, Down},
		{Position{X: 5, Y: 4}, Up},
	}
	for _, tc := range cases {
		got, err := Validate(from, tc.to, b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestValidate_OutOfBoundsIsCheckedFirst(t *testing.T) {
	b := Bounds{Width: 10, Height: 10}
	_, err := Validate(Position{X: 0, Y: 0}, Position{X: 0, Y: 10}, b)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// A far jump off the grid reports bounds, not step length.
	_, err = Validate(Position{X: 0, Y: 0}, Position{X: -5, Y: 20}, b)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestValidate_ZeroAndDiagonalAreInvalidSteps(t *testing.T) {
	b := Bounds{Width: 10, Height: 10}
	_, err := Validate(Position{X: 3, Y: 3}, Position{X: 3, Y: 3}, b)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = Validate(Position{X: 3, Y: 3}, Position{X: 4, Y: 4}, b)
	assert.ErrorIs(t, err, ErrInvalidStep)
	assert.Equal(t, "invalid step", err.Error())
}

func TestValidate_BoundaryCells(t *testing.T) {
	b := Bounds{Width: 3, Height: 3}
	_, err := Validate(Position{X: 2, Y: 2}, Position{X: 3, Y: 2}, b)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	d, err := Validate(Position{X: 1, Y: 0}, Position{X: 0, Y: 0}, b)
	require.NoError(t, err)
	assert.Equal(t, Left, d)
}

func TestDescriptor_ValidateMoveCollision(t *testing.T) {
	d := &Descriptor{
		ID:     "office",
		Bounds: Bounds{Width: 10, Height: 10},
		Elements: []Element{
			{ID: "desk", X: 4, Y: 4, Width: 2, Height: 1, Static: true},
			{ID: "rug", X: 0, Y: 0, Width: 3, Height: 3},
		},
	}

	_, err := d.ValidateMove(Position{X: 3, Y: 4}, Position{X: 4, Y: 4}, true)
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = d.ValidateMove(Position{X: 3, Y: 4}, Position{X: 4, Y: 4}, false)
	assert.NoError(t, err)

	_, err = d.ValidateMove(Position{X: 0, Y: 0}, Position{X: 1, Y: 0}, true)
	assert.NoError(t, err, "non-static elements never block")
}

func TestPropertyValidateAcceptsExactlyUnitStepsInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := Bounds{
			Width:  rapid.IntRange(1, 50).Draw(t, "w"),
			Height: rapid.IntRange(1, 50).Draw(t, "h"),
		}
		cur := Position{
			X: rapid.IntRange(0, b.Width-1).Draw(t, "cx"),
			Y: rapid.IntRange(0, b.Height-1).Draw(t, "cy"),
		}
		target := Position{
			X: rapid.IntRange(-3, b.Width+3).Draw(t, "tx"),
			Y: rapid.IntRange(-3, b.Height+3).Draw(t, "ty"),
		}

		dir, err := Validate(cur, target, b)
		inBounds := target.X >= 0 && target.X < b.Width && target.Y >= 0 && target.Y < b.Height
		unit := abs(target.X-cur.X)+abs(target.Y-cur.Y) == 1

		switch {
		case !inBounds:
			if err != ErrOutOfBounds {
				t.Fatalf("expected out of bounds for %v -> %v in %v, got %v", cur, target, b, err)
			}
		case !unit:
			if err != ErrInvalidStep {
				t.Fatalf("expected invalid step for %v -> %v, got %v", cur, target, err)
			}
		default:
			if err != nil || !dir.Valid() {
				t.Fatalf("expected accept for %v -> %v, got %q %v", cur, target, dir, err)
			}
		}
	})
}
