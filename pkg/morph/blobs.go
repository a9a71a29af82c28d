package morph

import (
	"github.com/cyclopcam/eventtrigger/pkg/geom"
)

// BlobFinder extracts the bounding boxes of 8-connected groups of non-zero pixels.
// The bounding box of a group is the bounding box of its external contour.
// A BlobFinder reuses its internal buffers between calls, and is not safe for
// concurrent use.
type BlobFinder struct {
	visited []bool
	stack   []int32
}

// ExternalRects returns one rectangle per blob, in raster order of each blob's first pixel.
func (b *BlobFinder) ExternalRects(bin []byte, width, height, stride int) ([]geom.Rect, error) {
	if err := checkBuffer("binary", bin, width, height, stride); err != nil {
		return nil, err
	}
	n := width * height
	if cap(b.visited) < n {
		b.visited = make([]bool, n)
	} else {
		b.visited = b.visited[:n]
		clear(b.visited)
	}

	rects := []geom.Rect{}
	for y := 0; y < height; y++ {
		row := bin[y*stride : y*stride+width]
		for x, v := range row {
			if v == 0 || b.visited[y*width+x] {
				continue
			}
			rects = append(rects, b.flood(bin, width, height, stride, x, y))
		}
	}
	return rects, nil
}

func (b *BlobFinder) flood(bin []byte, width, height, stride, sx, sy int) geom.Rect {
	x1, y1, x2, y2 := sx, sy, sx, sy
	b.stack = append(b.stack[:0], int32(sy*width+sx))
	b.visited[sy*width+sx] = true
	for len(b.stack) != 0 {
		p := int(b.stack[len(b.stack)-1])
		b.stack = b.stack[:len(b.stack)-1]
		px := p % width
		py := p / width
		x1 = min(x1, px)
		y1 = min(y1, py)
		x2 = max(x2, px)
		y2 = max(y2, py)
		for dy := -1; dy <= 1; dy++ {
			ny := py + dy
			if ny < 0 || ny >= height {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				nx := px + dx
				if nx < 0 || nx >= width || (dx == 0 && dy == 0) {
					continue
				}
				i := ny*width + nx
				if b.visited[i] || bin[ny*stride+nx] == 0 {
					continue
				}
				b.visited[i] = true
				b.stack = append(b.stack, int32(i))
			}
		}
	}
	return geom.FromCorners(x1, y1, x2+1, y2+1)
}

// ExternalRects is a convenience wrapper around a temporary BlobFinder
func ExternalRects(bin []byte, width, height, stride int) ([]geom.Rect, error) {
	b := BlobFinder{}
	return b.ExternalRects(bin, width, height, stride)
}
