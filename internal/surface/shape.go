// Package surface provides the append-only collaborative drawing log of a
// space, with hit-test based erase.
package surface

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance is the hit-test slack, in surface units, applied to every shape.
const Tolerance = 10.0

// DefaultFontSize is assumed for text shapes that omit a font size.
const DefaultFontSize = 16.0

// textAdvance approximates glyph width as a fraction of the font size.
const textAdvance = 0.6

// Kind names a geometry variant.
type Kind string

const (
	Rectangle Kind = "rectangle"
	Circle    Kind = "circle"
	Line      Kind = "line"
	Arrow     Kind = "arrow"
	Diamond   Kind = "diamond"
	Freehand  Kind = "freehand"
	Text      Kind = "text"
)

// ErrInvalidShape is returned for shapes whose fields do not fit their kind.
var ErrInvalidShape = errors.New("invalid shape")

// Point is a location on the surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is one drawn geometry. Which fields are meaningful depends on Kind:
//
//	rectangle, diamond: X, Y, Width, Height (negative sizes are normalized)
//	circle:             X, Y (center), Radius
//	line, arrow:        X, Y, X2, Y2
//	freehand:           Points
//	text:               X, Y (top-left), Text, FontSize
//
// Color and StrokeWidth are carried for clients and ignored by hit testing.
type Shape struct {
	Kind        Kind    `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	X2          float64 `json:"x2,omitempty"`
	Y2          float64 `json:"y2,omitempty"`
	Points      []Point `json:"points,omitempty"`
	Text        string  `json:"text,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty"`
	Color       string  `json:"color,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// Validate checks that the fields required by s.Kind are present and finite.
func (s Shape) Validate() error {
	coords := []float64{s.X, s.Y, s.Width, s.Height, s.Radius, s.X2, s.Y2, s.FontSize, s.StrokeWidth}
	for _, p := range s.Points {
		coords = append(coords, p.X, p.Y)
	}
	for _, v := range coords {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidShape)
		}
	}
	switch s.Kind {
	case Rectangle, Diamond, Line, Arrow:
		return nil
	case Circle:
		if s.Radius < 0 {
			return fmt.Errorf("%w: circle radius must not be negative", ErrInvalidShape)
		}
		return nil
	case Freehand:
		if len(s.Points) == 0 {
			return fmt.Errorf("%w: freehand requires at least one point", ErrInvalidShape)
		}
		return nil
	case Text:
		if s.Text == "" {
			return fmt.Errorf("%w: text must not be empty", ErrInvalidShape)
		}
		if s.FontSize < 0 {
			return fmt.Errorf("%w: font size must not be negative", ErrInvalidShape)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidShape, s.Kind)
	}
}

// Hit reports whether p lies on or near s, within tol.
func (s Shape) Hit(p Point, tol float64) bool {
	switch s.Kind {
	case Rectangle:
		x0, y0, x1, y1 := s.box()
		return p.X >= x0-tol && p.X <= x1+tol && p.Y >= y0-tol && p.Y <= y1+tol
	case Circle:
		return math.Hypot(p.X-s.X, p.Y-s.Y) <= s.Radius+tol
	case Line, Arrow:
		return segmentDistance(p, Point{s.X, s.Y}, Point{s.X2, s.Y2}) <= tol
	case Diamond:
		x0, y0, x1, y1 := s.box()
		cx, cy := (x0+x1)/2, (y0+y1)/2
		hw, hh := (x1-x0)/2+tol, (y1-y0)/2+tol
		return math.Abs(p.X-cx)/hw+math.Abs(p.Y-cy)/hh <= 1
	case Freehand:
		if len(s.Points) == 1 {
			return math.Hypot(p.X-s.Points[0].X, p.Y-s.Points[0].Y) <= tol
		}
		for i := 1; i < len(s.Points); i++ {
			if segmentDistance(p, s.Points[i-1], s.Points[i]) <= tol {
				return true
			}
		}
		return false
	case Text:
		fs := s.FontSize
		if fs == 0 {
			fs = DefaultFontSize
		}
		w := float64(len([]rune(s.Text))) * fs * textAdvance
		return p.X >= s.X-tol && p.X <= s.X+w+tol && p.Y >= s.Y-tol && p.Y <= s.Y+fs+tol
	}
	return false
}

// box returns the normalized extent of an X/Y/Width/Height shape.
func (s Shape) box() (x0, y0, x1, y1 float64) {
	x0, x1 = s.X, s.X+s.Width
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	y0, y1 = s.Y, s.Y+s.Height
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return x0, y0, x1, y1
}

func segmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
