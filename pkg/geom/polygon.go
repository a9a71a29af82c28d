package geom

// Polygon is an ordered sequence of vertices. The last vertex connects back to the first.
// An empty polygon means "the whole frame".
type Polygon []Point

// Returns true if the polygon has enough vertices to enclose an area
func (p Polygon) IsArea() bool {
	return len(p) >= 3
}

// Bounds returns the smallest rectangle that contains every vertex.
// Vertices are pixel coordinates, so the rectangle is one pixel wider and taller
// than the raw coordinate span.
func (p Polygon) Bounds() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	x1, y1 := p[0].X, p[0].Y
	x2, y2 := p[0].X, p[0].Y
	for _, v := range p[1:] {
		x1 = min(x1, v.X)
		y1 = min(y1, v.Y)
		x2 = max(x2, v.X)
		y2 = max(y2, v.Y)
	}
	return FromCorners(x1, y1, x2+1, y2+1)
}

// Equal compares vertices pointwise
func (p Polygon) Equal(b Polygon) bool {
	if len(p) != len(b) {
		return false
	}
	for i := range p {
		if p[i] != b[i] {
			return false
		}
	}
	return true
}

// Scale every vertex
func (p Polygon) Scale(sx, sy float32) Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Point{
			X: int(float32(v.X)*sx + 0.5),
			Y: int(float32(v.Y)*sy + 0.5),
		}
	}
	return out
}

func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	return append(Polygon(nil), p...)
}

// ContainsPixel uses the even-odd (ray casting) rule, sampling the pixel at its center.
func (p Polygon) ContainsPixel(x, y int) bool {
	px := float32(x) + 0.5
	py := float32(y) + 0.5
	inside := false
	j := len(p) - 1
	for i := 0; i < len(p); i++ {
		xi, yi := float32(p[i].X), float32(p[i].Y)
		xj, yj := float32(p[j].X), float32(p[j].Y)
		if (yi > py) != (yj > py) {
			xCross := xi + (py-yi)*(xj-xi)/(yj-yi)
			if px < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
