package entity

import "math"

// Point is a pixel coordinate reported by an OCR reader.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a bounding region as four points, clockwise from top-left.
type Quad [4]Point

// Rect is an axis-aligned box with Min inclusive and Max exclusive.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// QuadFromBox builds a quad from a left/top origin and a size.
func QuadFromBox(left, top, width, height float64) Quad {
	return Quad{
		{X: left, Y: top},
		{X: left + width, Y: top},
		{X: left + width, Y: top + height},
		{X: left, Y: top + height},
	}
}

// Bounds returns the axis-aligned box enclosing the quad.
func (q Quad) Bounds() Rect {
	r := Rect{MinX: q[0].X, MinY: q[0].Y, MaxX: q[0].X, MaxY: q[0].Y}
	for _, p := range q[1:] {
		r.MinX = math.Min(r.MinX, p.X)
		r.MinY = math.Min(r.MinY, p.Y)
		r.MaxX = math.Max(r.MaxX, p.X)
		r.MaxY = math.Max(r.MaxY, p.Y)
	}
	return r
}

func (r Rect) Width() float64  { return math.Max(0, r.MaxX-r.MinX) }
func (r Rect) Height() float64 { return math.Max(0, r.MaxY-r.MinY) }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Contains reports whether p lies inside r (edges included).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// IoU is the intersection-over-union of two boxes, 0 when either is empty.
func (r Rect) IoU(o Rect) float64 {
	inter := Rect{
		MinX: math.Max(r.MinX, o.MinX),
		MinY: math.Max(r.MinY, o.MinY),
		MaxX: math.Min(r.MaxX, o.MaxX),
		MaxY: math.Min(r.MaxY, o.MaxY),
	}
	ia := inter.Area()
	union := r.Area() + o.Area() - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
