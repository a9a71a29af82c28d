package geom

// MergeOverlapping unions rectangles that overlap by more than half of the smaller
// rectangle's area. The merge is done in place: the survivor of a pair grows to the union,
// and the other becomes an empty sentinel, so it can never be unioned twice in one pass.
// Passes repeat until nothing changes, and the empty sentinels are then dropped.
// The input slice is reused for the output.
func MergeOverlapping(rects []Rect) []Rect {
	for {
		changed := false
		for i := 0; i < len(rects); i++ {
			if rects[i].Empty() {
				continue
			}
			for j := i + 1; j < len(rects); j++ {
				if rects[j].Empty() {
					continue
				}
				smaller := min(rects[i].Area(), rects[j].Area())
				if 2*rects[i].Intersection(rects[j]).Area() > smaller {
					rects[i] = rects[i].Union(rects[j])
					rects[j] = Rect{}
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	out := rects[:0]
	for _, r := range rects {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// UnionAll returns the bounding box of every rectangle, or the zero Rect if there are none
func UnionAll(rects []Rect) Rect {
	u := Rect{}
	for _, r := range rects {
		u = u.Union(r)
	}
	return u
}
