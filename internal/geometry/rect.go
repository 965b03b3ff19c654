// File: internal/geometry/rect.go
package geometry

import "fmt"

// Rect is an axis-aligned screen rectangle in device pixels.
// Right and Bottom are exclusive edges, matching the platform accessibility bounds.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rectangle encloses no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Area returns the enclosed area, or 0 for degenerate rectangles.
func (r Rect) Area() int64 {
	if r.Empty() {
		return 0
	}
	return int64(r.Width()) * int64(r.Height())
}

// Center returns the integer centroid of the rectangle.
func (r Rect) Center() Point {
	return Point{
		X: r.Left + r.Width()/2,
		Y: r.Top + r.Height()/2,
	}
}

// Intersect returns the overlapping region and whether one exists.
// Rectangles that only share an edge do not intersect.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	in := Rect{
		Left:   max(r.Left, o.Left),
		Top:    max(r.Top, o.Top),
		Right:  min(r.Right, o.Right),
		Bottom: min(r.Bottom, o.Bottom),
	}
	if in.Left >= in.Right || in.Top >= in.Bottom {
		return Rect{}, false
	}
	return in, true
}

func (r Rect) String() string {
	return fmt.Sprintf("Rect(%d, %d - %d, %d)", r.Left, r.Top, r.Right, r.Bottom)
}

// IoU computes the intersection-over-union of two rectangles.
// It is symmetric, returns 1 for identical non-empty rectangles and 0 when they are disjoint.
func IoU(a, b Rect) float64 {
	in, ok := a.Intersect(b)
	if !ok {
		return 0
	}
	inter := in.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
