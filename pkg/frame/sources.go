package frame

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"golang.org/x/image/draw"
)

// CImage is a frame held in a cimg image (for example decoded from a JPEG)
type CImage struct {
	Img *cimg.Image
}

func FromCImage(img *cimg.Image) *CImage {
	return &CImage{Img: img}
}

func (c *CImage) Size() (int, int) {
	return c.Img.Width, c.Img.Height
}

func (c *CImage) ToGray() (*Gray, error) {
	img := c.Img
	switch img.NChan() {
	case 1:
		return WrapGray(img.Width, img.Height, img.Stride, img.Pixels)
	case 3, 4:
	default:
		return nil, fmt.Errorf("%w: %v channel image", errkind.ErrNotSupportedFormat, img.NChan())
	}
	rgb := img.ToRGB()
	gray, err := NewGray(rgb.Width, rgb.Height)
	if err != nil {
		return nil, err
	}
	for y := 0; y < rgb.Height; y++ {
		src := rgb.Pixels[y*rgb.Stride : y*rgb.Stride+rgb.Width*3]
		dst := gray.Pixels[y*gray.Stride : y*gray.Stride+gray.Width]
		for x := range dst {
			dst[x] = luma(src[x*3], src[x*3+1], src[x*3+2])
		}
	}
	return gray, nil
}

// YUVImage is a planar YUV 420 frame, which is what our video decoders produce.
// Only the Y plane is needed to produce an intensity image.
type YUVImage struct {
	Width   int
	Height  int
	YStride int
	Y       []byte
	U       []byte
	V       []byte
}

func (f *YUVImage) Size() (int, int) {
	return f.Width, f.Height
}

func (f *YUVImage) ToGray() (*Gray, error) {
	stride := f.YStride
	if stride == 0 {
		stride = f.Width
	}
	return WrapGray(f.Width, f.Height, stride, f.Y)
}

// StdImage adapts any image.Image
type StdImage struct {
	Img image.Image
}

func FromImage(img image.Image) *StdImage {
	return &StdImage{Img: img}
}

func (s *StdImage) Size() (int, int) {
	b := s.Img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *StdImage) ToGray() (*Gray, error) {
	if g, ok := s.Img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return WrapGray(g.Rect.Dx(), g.Rect.Dy(), g.Stride, g.Pix)
	}
	if _, ok := s.Img.(*image.Paletted); ok && len(s.Img.(*image.Paletted).Palette) == 0 {
		return nil, fmt.Errorf("%w: paletted image without a palette", errkind.ErrNotSupportedFormat)
	}
	b := s.Img.Bounds()
	gray, err := NewGray(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	dst := gray.Image()
	draw.Draw(dst, dst.Rect, s.Img, b.Min, draw.Src)
	return gray, nil
}

// Resize scales src to width x height with bilinear filtering
func Resize(src *Gray, width, height int) (*Gray, error) {
	dst, err := NewGray(width, height)
	if err != nil {
		return nil, err
	}
	if err := ResizeInto(src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// ResizeInto scales src to fill dst
func ResizeInto(src, dst *Gray) error {
	if src.Width == dst.Width && src.Height == dst.Height {
		return dst.CopyFrom(src)
	}
	d := dst.Image()
	s := src.Image()
	draw.ApproxBiLinear.Scale(d, d.Rect, s, s.Rect, draw.Src, nil)
	return nil
}
