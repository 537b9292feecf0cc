package valueobjects

import (
	"errors"
	"math"
)

const epsilon = 1e-9

// Position is a point on the canvas. The canvas is unbounded, so negative
// coordinates are valid.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition creates a position, rejecting NaN and infinite coordinates
func NewPosition(x, y float64) (Position, error) {
	if !isFinite(x) || !isFinite(y) {
		return Position{}, errors.New("position coordinates must be finite numbers")
	}
	return Position{X: x, Y: y}, nil
}

// Validate checks the coordinates are finite
func (p Position) Validate() error {
	_, err := NewPosition(p.X, p.Y)
	return err
}

// Equals compares two positions with a small tolerance
func (p Position) Equals(other Position) bool {
	return math.Abs(p.X-other.X) < epsilon && math.Abs(p.Y-other.Y) < epsilon
}

// Add offsets the position
func (p Position) Add(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns the offset from other to p
func (p Position) Sub(other Position) Position {
	return Position{X: p.X - other.X, Y: p.Y - other.Y}
}

// DistanceTo returns the euclidean distance between two points
func (p Position) DistanceTo(other Position) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Size is the width and height of a card
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewSize creates a size; both dimensions must be positive and finite
func NewSize(width, height float64) (Size, error) {
	if !isFinite(width) || !isFinite(height) {
		return Size{}, errors.New("size must be finite")
	}
	if width <= 0 || height <= 0 {
		return Size{}, errors.New("size must be positive")
	}
	return Size{Width: width, Height: height}, nil
}

// Validate checks both dimensions
func (s Size) Validate() error {
	_, err := NewSize(s.Width, s.Height)
	return err
}

// Equals compares two sizes with a small tolerance
func (s Size) Equals(other Size) bool {
	return math.Abs(s.Width-other.Width) < epsilon && math.Abs(s.Height-other.Height) < epsilon
}

// IsZero reports whether the size was never set
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Rect is the area covered by a card on the canvas
type Rect struct {
	Origin Position
	Size   Size
}

// Contains reports whether p lies inside the rectangle, edges included
func (r Rect) Contains(p Position) bool {
	return p.X >= r.Origin.X && p.X <= r.Origin.X+r.Size.Width &&
		p.Y >= r.Origin.Y && p.Y <= r.Origin.Y+r.Size.Height
}

// RightMiddle is the midpoint of the right edge, where link anchors sit
func (r Rect) RightMiddle() Position {
	return Position{X: r.Origin.X + r.Size.Width, Y: r.Origin.Y + r.Size.Height/2}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
