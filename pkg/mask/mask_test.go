package mask

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/stretchr/testify/require"
)

func randomBuffer(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func TestRasterizeSquare(t *testing.T) {
	m, err := RasterizePolygon(20, 10, geom.Polygon{{X: 2, Y: 2}, {X: 6, Y: 2}, {X: 6, Y: 5}, {X: 2, Y: 5}})
	require.NoError(t, err)
	n := 0
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			inside := x >= 2 && x < 6 && y >= 2 && y < 5
			if inside {
				require.EqualValues(t, Inside, m[y*20+x], "%v,%v", x, y)
				n++
			} else {
				require.EqualValues(t, Outside, m[y*20+x], "%v,%v", x, y)
			}
		}
	}
	require.Equal(t, 12, n)
}

func TestRasterizeClipsToImage(t *testing.T) {
	// Polygon extends beyond the image on every side
	m, err := RasterizePolygon(8, 8, geom.Polygon{{X: -10, Y: -10}, {X: 100, Y: -10}, {X: 100, Y: 100}, {X: -10, Y: 100}})
	require.NoError(t, err)
	for _, v := range m {
		require.EqualValues(t, Inside, v)
	}
}

func TestRasterizeOutsideImage(t *testing.T) {
	for _, poly := range []geom.Polygon{
		{{X: 40, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 5}, {X: 40, Y: 5}},     // right of the image
		{{X: 0, Y: 40}, {X: 5, Y: 40}, {X: 5, Y: 50}, {X: 0, Y: 50}},     // below
		{{X: -9, Y: -9}, {X: -2, Y: -9}, {X: -2, Y: -2}, {X: -9, Y: -2}}, // above and left
	} {
		dst := make([]byte, 16*8)
		for i := range dst {
			dst[i] = 1
		}
		require.NoError(t, RasterizePolygonInto(dst, 8, 8, 16, poly), "%v", poly)
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				require.EqualValues(t, Outside, dst[y*16+x], "%v at %v,%v", poly, x, y)
			}
		}
	}
}

func TestRasterizeRejectsBadInput(t *testing.T) {
	_, err := RasterizePolygon(0, 10, geom.Polygon{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}})
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
	_, err = RasterizePolygon(10, 10, geom.Polygon{{X: 0, Y: 0}, {X: 1, Y: 0}})
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
}

func TestApplyMaskLeavesUnalignedTail(t *testing.T) {
	width, height, stride := 21, 3, 24
	src := make([]byte, height*stride)
	for i := range src {
		src[i] = 0xff
	}
	msk := make([]byte, height*stride) // all zero
	dst := make([]byte, height*stride)
	for i := range dst {
		dst[i] = 7
	}
	require.NoError(t, ApplyMask(src, msk, dst, width, height, stride))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < 16 {
				require.EqualValues(t, 0, dst[y*stride+x])
			} else {
				require.EqualValues(t, 7, dst[y*stride+x], "column %v must be untouched", x)
			}
		}
	}

	require.NoError(t, ApplyMaskFull(src, msk, dst, width, height, stride))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			require.EqualValues(t, 0, dst[y*stride+x])
		}
	}
}

func TestApplyMaskAndInvertPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	width, height := 37, 29
	buf := randomBuffer(rng, width*height)
	m, err := RasterizePolygon(width, height, geom.Polygon{{X: 3, Y: 1}, {X: 30, Y: 5}, {X: 20, Y: 27}, {X: 1, Y: 20}})
	require.NoError(t, err)
	inv := make([]byte, len(m))
	require.NoError(t, Invert(m, inv, width, height, width))

	// applyMask(applyMask(buf, mask), invert(mask)) is zero everywhere
	tmp := make([]byte, len(buf))
	require.NoError(t, ApplyMaskFull(buf, m, tmp, width, height, width))
	require.NoError(t, ApplyMaskFull(tmp, inv, tmp, width, height, width))
	for _, v := range tmp {
		require.EqualValues(t, 0, v)
	}

	// ...and the two halves add back up to the original
	a := make([]byte, len(buf))
	b := make([]byte, len(buf))
	require.NoError(t, ApplyMaskFull(buf, m, a, width, height, width))
	require.NoError(t, ApplyMaskFull(buf, inv, b, width, height, width))
	for i := range buf {
		require.Equal(t, buf[i], a[i]|b[i])
	}
}

func TestAbsDiff(t *testing.T) {
	a := []byte{0, 10, 200, 255, 9, 9}
	b := []byte{5, 10, 100, 0, 9, 9}
	dst := make([]byte, 6)
	require.NoError(t, AbsDiff(a, b, dst, 4, 1, 6))
	require.Equal(t, []byte{5, 0, 100, 255, 0, 0}, dst)

	require.True(t, errors.Is(AbsDiff(a, b[:2], dst, 4, 1, 6), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(AbsDiff(nil, b, dst, 4, 1, 6), errkind.ErrInvalidParameter))
}

func BenchmarkApplyMask640x480(b *testing.B) {
	width, height := 640, 480
	rng := rand.New(rand.NewSource(1))
	src := randomBuffer(rng, width*height)
	m, _ := RasterizePolygon(width, height, geom.Polygon{{X: 10, Y: 10}, {X: 600, Y: 40}, {X: 500, Y: 470}, {X: 30, Y: 400}})
	dst := make([]byte, len(src))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ApplyMask(src, m, dst, width, height, width)
	}
}
