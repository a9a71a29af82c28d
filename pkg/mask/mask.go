// Package mask rasterizes polygon regions of interest into binary masks,
// and applies those masks to single channel pixel buffers.
//
// All functions work on caller-owned buffers described by (width, height, stride),
// and none of them allocate unless asked to create a new mask.
package mask

import (
	"encoding/binary"
	"fmt"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
)

// Alignment is the column granularity of ApplyMask and AbsDiff's word-at-a-time loops
const Alignment = 16

const (
	Outside = 0
	Inside  = 255
)

// AlignWidth rounds width down to a multiple of Alignment
func AlignWidth(width int) int {
	return width &^ (Alignment - 1)
}

func checkBuffer(name string, buf []byte, width, height, stride int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %v is %vx%v", errkind.ErrInvalidParameter, name, width, height)
	}
	if stride < width {
		return fmt.Errorf("%w: %v stride %v is less than width %v", errkind.ErrInvalidParameter, name, stride, width)
	}
	if buf == nil || len(buf) < (height-1)*stride+width {
		return fmt.Errorf("%w: %v buffer too small (%v bytes for %vx%v stride %v)", errkind.ErrInvalidParameter, name, len(buf), width, height, stride)
	}
	return nil
}

// RasterizePolygon creates a tightly packed (stride = width) mask, where pixels inside
// the polygon are 255, and pixels outside are 0.
func RasterizePolygon(width, height int, polygon geom.Polygon) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: mask size %vx%v", errkind.ErrInvalidParameter, width, height)
	}
	dst := make([]byte, width*height)
	if err := RasterizePolygonInto(dst, width, height, width, polygon); err != nil {
		return nil, err
	}
	return dst, nil
}

// RasterizePolygonInto writes the polygon mask into dst.
// Every pixel center is tested against the polygon edges with the even-odd rule.
// Pixels outside the polygon's bounding box are set to 0 without running the edge test.
func RasterizePolygonInto(dst []byte, width, height, stride int, polygon geom.Polygon) error {
	if err := checkBuffer("mask", dst, width, height, stride); err != nil {
		return err
	}
	if !polygon.IsArea() {
		return fmt.Errorf("%w: polygon has %v points, need at least 3", errkind.ErrInvalidParameter, len(polygon))
	}
	bounds := polygon.Bounds().Clip(width, height)
	for y := 0; y < height; y++ {
		row := dst[y*stride : y*stride+width]
		if bounds.Empty() || y < bounds.Y || y >= bounds.Y2() {
			clear(row)
			continue
		}
		clear(row[:bounds.X])
		clear(row[bounds.X2():])
		for x := bounds.X; x < bounds.X2(); x++ {
			if polygon.ContainsPixel(x, y) {
				row[x] = Inside
			} else {
				row[x] = Outside
			}
		}
	}
	return nil
}

// ApplyMask computes dst = src AND mask, for the first AlignWidth(width) columns of every row.
// Columns beyond the aligned width are left untouched in dst. Use ApplyMaskFull if you need
// every column processed. dst may be the same buffer as src.
func ApplyMask(src, mask, dst []byte, width, height, stride int) error {
	if err := checkInputs3(src, mask, dst, width, height, stride); err != nil {
		return err
	}
	aligned := AlignWidth(width)
	for y := 0; y < height; y++ {
		o := y * stride
		for x := 0; x < aligned; x += 8 {
			i := o + x
			a := binary.LittleEndian.Uint64(src[i:])
			m := binary.LittleEndian.Uint64(mask[i:])
			binary.LittleEndian.PutUint64(dst[i:], a&m)
		}
	}
	return nil
}

// ApplyMaskFull is ApplyMask, followed by a byte-wise pass over the unaligned tail columns
func ApplyMaskFull(src, mask, dst []byte, width, height, stride int) error {
	if err := ApplyMask(src, mask, dst, width, height, stride); err != nil {
		return err
	}
	aligned := AlignWidth(width)
	if aligned == width {
		return nil
	}
	for y := 0; y < height; y++ {
		o := y * stride
		for x := aligned; x < width; x++ {
			dst[o+x] = src[o+x] & mask[o+x]
		}
	}
	return nil
}

// AbsDiff computes dst = |a - b| for every pixel
func AbsDiff(a, b, dst []byte, width, height, stride int) error {
	if err := checkInputs3(a, b, dst, width, height, stride); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		o := y * stride
		ra := a[o : o+width]
		rb := b[o : o+width]
		rd := dst[o : o+width]
		for x := range ra {
			if ra[x] > rb[x] {
				rd[x] = ra[x] - rb[x]
			} else {
				rd[x] = rb[x] - ra[x]
			}
		}
	}
	return nil
}

// Invert flips every mask pixel between 0 and 255
func Invert(mask, dst []byte, width, height, stride int) error {
	if err := checkBuffer("mask", mask, width, height, stride); err != nil {
		return err
	}
	if err := checkBuffer("dst", dst, width, height, stride); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		o := y * stride
		for x := 0; x < width; x++ {
			dst[o+x] = ^mask[o+x]
		}
	}
	return nil
}

func checkInputs3(a, b, dst []byte, width, height, stride int) error {
	if err := checkBuffer("src", a, width, height, stride); err != nil {
		return err
	}
	if err := checkBuffer("mask", b, width, height, stride); err != nil {
		return err
	}
	return checkBuffer("dst", dst, width, height, stride)
}
