package geom

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt(float32((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y)))
}

// Rect is an axis aligned rectangle. X2 and Y2 are exclusive.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func XYWH(x, y, width, height int) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// Create a rectangle from two corners (x2,y2 exclusive)
func FromCorners(x1, y1, x2, y2 int) Rect {
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

// An empty rectangle has no area. The zero Rect is empty.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Union returns the bounding box of r and b.
// Empty rectangles do not contribute, so the zero Rect can be used as the
// starting value of an accumulation.
func (r Rect) Union(b Rect) Rect {
	if r.Empty() {
		return b
	}
	if b.Empty() {
		return r
	}
	x1 := min(r.X, b.X)
	y1 := min(r.Y, b.Y)
	x2 := max(r.X+r.Width, b.X+b.Width)
	y2 := max(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b)
	union := r.Area() + b.Area() - intersection.Area()
	if union <= 0 {
		return 0
	}
	return float32(intersection.Area()) / float32(union)
}

func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2,
		Y: r.Y + r.Height/2,
	}
}

// Returns true if b lies entirely inside r
func (r Rect) Contains(b Rect) bool {
	return b.X >= r.X && b.Y >= r.Y && b.X2() <= r.X2() && b.Y2() <= r.Y2()
}

func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X && p.Y >= r.Y && p.X < r.X2() && p.Y < r.Y2()
}

func (r *Rect) Offset(dx, dy int) {
	r.X += dx
	r.Y += dy
}

// Scale multiplies position and size, rounding the corners to the nearest pixel.
func (r Rect) Scale(sx, sy float32) Rect {
	x1 := int(math32.Round(float32(r.X) * sx))
	y1 := int(math32.Round(float32(r.Y) * sy))
	x2 := int(math32.Round(float32(r.X2()) * sx))
	y2 := int(math32.Round(float32(r.Y2()) * sy))
	return FromCorners(x1, y1, x2, y2)
}

// Pad grows the rectangle by fraction*Width/2 on the left and right, and
// fraction*Height/2 on the top and bottom. So Pad(0.25) makes the rectangle
// 25% wider and 25% taller, keeping the same center.
func (r Rect) Pad(fraction float32) Rect {
	dx := int(math32.Ceil(float32(r.Width) * fraction / 2))
	dy := int(math32.Ceil(float32(r.Height) * fraction / 2))
	return FromCorners(r.X-dx, r.Y-dy, r.X2()+dx, r.Y2()+dy)
}

// Snap expands the rectangle outwards so that all four edges lie on multiples of cell.
func (r Rect) Snap(cell int) Rect {
	if cell <= 1 {
		return r
	}
	x1 := floorMultiple(r.X, cell)
	y1 := floorMultiple(r.Y, cell)
	x2 := -floorMultiple(-r.X2(), cell)
	y2 := -floorMultiple(-r.Y2(), cell)
	return FromCorners(x1, y1, x2, y2)
}

// Clip to the image 0,0,width,height
func (r Rect) Clip(width, height int) Rect {
	return r.Intersection(Rect{Width: width, Height: height})
}

// MoveCenterTowards shifts the rectangle (without resizing) so that its center moves
// the given fraction of the way towards the center of target.
func (r Rect) MoveCenterTowards(target Rect, fraction float32) Rect {
	c := r.Center()
	t := target.Center()
	dx := int(math32.Round(float32(t.X-c.X) * fraction))
	dy := int(math32.Round(float32(t.Y-c.Y) * fraction))
	r.Offset(dx, dy)
	return r
}

func floorMultiple(v, m int) int {
	if v >= 0 {
		return v / m * m
	}
	return -((-v + m - 1) / m * m)
}
