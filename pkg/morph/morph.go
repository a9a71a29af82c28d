// Package morph implements grayscale morphology with rectangular structuring
// elements, thresholding, and extraction of blob bounding boxes.
package morph

import (
	"fmt"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
)

func checkBuffer(name string, buf []byte, width, height, stride int) error {
	if width <= 0 || height <= 0 || stride < width {
		return fmt.Errorf("%w: %v is %vx%v stride %v", errkind.ErrInvalidParameter, name, width, height, stride)
	}
	if len(buf) < (height-1)*stride+width {
		return fmt.Errorf("%w: %v buffer too small (%v bytes)", errkind.ErrInvalidParameter, name, len(buf))
	}
	return nil
}

// Erode replaces every pixel with the minimum over a size x size window centered on it.
// Windows are clipped at the image edges. scratch must be as large as src.
// dst may be the same buffer as src, but scratch must be distinct from both.
func Erode(src, dst, scratch []byte, width, height, stride, size int) error {
	return filter(src, dst, scratch, width, height, stride, size, minOp)
}

// Dilate replaces every pixel with the maximum over a size x size window centered on it.
// Same buffer rules as Erode.
func Dilate(src, dst, scratch []byte, width, height, stride, size int) error {
	return filter(src, dst, scratch, width, height, stride, size, maxOp)
}

type op int

const (
	minOp op = iota
	maxOp
)

func filter(src, dst, scratch []byte, width, height, stride, size int, kind op) error {
	if size < 1 {
		return fmt.Errorf("%w: kernel size %v", errkind.ErrInvalidParameter, size)
	}
	for _, b := range []struct {
		name string
		buf  []byte
	}{{"src", src}, {"dst", dst}, {"scratch", scratch}} {
		if err := checkBuffer(b.name, b.buf, width, height, stride); err != nil {
			return err
		}
	}
	before := size / 2
	after := size - 1 - before

	// Rectangular elements are separable: horizontal pass into scratch, then vertical into dst.
	for y := 0; y < height; y++ {
		in := src[y*stride : y*stride+width]
		out := scratch[y*stride : y*stride+width]
		for x := 0; x < width; x++ {
			x1 := max(0, x-before)
			x2 := min(width-1, x+after)
			v := in[x1]
			for i := x1 + 1; i <= x2; i++ {
				if kind == minOp {
					v = min(v, in[i])
				} else {
					v = max(v, in[i])
				}
			}
			out[x] = v
		}
	}

	for y := 0; y < height; y++ {
		y1 := max(0, y-before)
		y2 := min(height-1, y+after)
		out := dst[y*stride : y*stride+width]
		for x := 0; x < width; x++ {
			v := scratch[y1*stride+x]
			for j := y1 + 1; j <= y2; j++ {
				if kind == minOp {
					v = min(v, scratch[j*stride+x])
				} else {
					v = max(v, scratch[j*stride+x])
				}
			}
			out[x] = v
		}
	}
	return nil
}

// Threshold sets dst to 255 where src > t, and 0 elsewhere.
// A threshold of 255 therefore never produces a set pixel.
func Threshold(src, dst []byte, width, height, stride int, t uint8) error {
	if err := checkBuffer("src", src, width, height, stride); err != nil {
		return err
	}
	if err := checkBuffer("dst", dst, width, height, stride); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		in := src[y*stride : y*stride+width]
		out := dst[y*stride : y*stride+width]
		for x, v := range in {
			if v > t {
				out[x] = 255
			} else {
				out[x] = 0
			}
		}
	}
	return nil
}
