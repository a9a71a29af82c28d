// Package frame holds the frame types that are pushed into the trigger engine,
// and their conversion to a single channel intensity image.
package frame

import (
	"fmt"
	"image"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/mask"
)

// MaxPixels is the largest frame we'll allocate buffers for
const MaxPixels = 1 << 26

// Source is a decoded video frame of any pixel layout
type Source interface {
	Size() (width, height int)
	// ToGray returns the intensity image. The result may share memory with the source.
	ToGray() (*Gray, error)
}

// Gray is an 8-bit single channel image
type Gray struct {
	Width  int
	Height int
	Stride int
	Pixels []byte
}

// NewGray allocates an image whose stride is padded to the mask alignment,
// so that mask.ApplyMask covers every column.
func NewGray(width, height int) (*Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image size %vx%v", errkind.ErrInvalidParameter, width, height)
	}
	stride := (width + mask.Alignment - 1) &^ (mask.Alignment - 1)
	if stride*height > MaxPixels {
		return nil, fmt.Errorf("%w: %vx%v image", errkind.ErrOutOfMemory, width, height)
	}
	return &Gray{
		Width:  width,
		Height: height,
		Stride: stride,
		Pixels: make([]byte, stride*height),
	}, nil
}

// WrapGray wraps existing memory without copying
func WrapGray(width, height, stride int, pixels []byte) (*Gray, error) {
	if width <= 0 || height <= 0 || stride < width || len(pixels) < (height-1)*stride+width {
		return nil, fmt.Errorf("%w: gray buffer %vx%v stride %v, %v bytes", errkind.ErrInvalidParameter, width, height, stride, len(pixels))
	}
	return &Gray{Width: width, Height: height, Stride: stride, Pixels: pixels}, nil
}

func (g *Gray) Size() (int, int) {
	return g.Width, g.Height
}

func (g *Gray) ToGray() (*Gray, error) {
	return g, nil
}

// Clone returns a deep copy with the same stride
func (g *Gray) Clone() *Gray {
	c := *g
	c.Pixels = make([]byte, len(g.Pixels))
	copy(c.Pixels, g.Pixels)
	return &c
}

// CopyFrom copies pixels from src, which must have the same dimensions
func (g *Gray) CopyFrom(src *Gray) error {
	if g.Width != src.Width || g.Height != src.Height {
		return fmt.Errorf("%w: copy %vx%v into %vx%v", errkind.ErrInternal, src.Width, src.Height, g.Width, g.Height)
	}
	for y := 0; y < g.Height; y++ {
		copy(g.Pixels[y*g.Stride:y*g.Stride+g.Width], src.Pixels[y*src.Stride:y*src.Stride+src.Width])
	}
	return nil
}

func (g *Gray) At(x, y int) byte {
	return g.Pixels[y*g.Stride+x]
}

func (g *Gray) Set(x, y int, v byte) {
	g.Pixels[y*g.Stride+x] = v
}

// Image returns an image.Gray that shares memory with g
func (g *Gray) Image() *image.Gray {
	return &image.Gray{
		Pix:    g.Pixels,
		Stride: g.Stride,
		Rect:   image.Rect(0, 0, g.Width, g.Height),
	}
}

// luma with BT.601 integer weights (77 + 150 + 29 = 256)
func luma(r, g, b byte) byte {
	return byte((77*uint32(r) + 150*uint32(g) + 29*uint32(b)) >> 8)
}
