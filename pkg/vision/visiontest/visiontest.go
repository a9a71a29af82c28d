// Package visiontest provides deterministic detectors for tests.
// They treat bright rectangles in the image as the objects being detected.
package visiontest

import (
	"sync"

	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/morph"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
)

// Bright is the lowest pixel value that the blob detector considers part of an object
const Bright = 200

// BlobDetector reports the bounding box of every 8-connected group of bright pixels
type BlobDetector struct {
	Cell int // Returned by CellSize

	lock    sync.Mutex
	regions []geom.Rect
	closed  bool
}

func (d *BlobDetector) CellSize() int {
	if d.Cell == 0 {
		return 8
	}
	return d.Cell
}

func (d *BlobDetector) DetectRegions(img *frame.Gray, region geom.Rect, minSize int) ([]geom.Rect, error) {
	if region.Empty() {
		region = geom.XYWH(0, 0, img.Width, img.Height)
	}
	region = region.Clip(img.Width, img.Height)
	d.lock.Lock()
	d.regions = append(d.regions, region)
	d.lock.Unlock()
	if region.Empty() {
		return nil, nil
	}

	bin := make([]byte, region.Width*region.Height)
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			if img.At(region.X+x, region.Y+y) >= Bright {
				bin[y*region.Width+x] = 255
			}
		}
	}
	blobs, err := morph.ExternalRects(bin, region.Width, region.Height, region.Width)
	if err != nil {
		return nil, err
	}
	out := []geom.Rect{}
	for _, b := range blobs {
		if b.Width < minSize || b.Height < minSize {
			continue
		}
		b.Offset(region.X, region.Y)
		out = append(out, b)
	}
	return out, nil
}

// Regions returns the search region of every call so far
func (d *BlobDetector) Regions() []geom.Rect {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]geom.Rect(nil), d.regions...)
}

func (d *BlobDetector) Calls() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.regions)
}

func (d *BlobDetector) Close() {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
}

func (d *BlobDetector) Closed() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.closed
}

// WidthRecognizer labels a region by its width. Widths missing from Labels are unknown.
type WidthRecognizer struct {
	Labels map[int]int

	lock   sync.Mutex
	closed bool
}

func (r *WidthRecognizer) Recognize(img *frame.Gray, region geom.Rect) (vision.Recognition, bool, error) {
	label, ok := r.Labels[region.Width]
	if !ok {
		return vision.Recognition{}, false, nil
	}
	return vision.Recognition{Label: label, Confidence: float32(region.Width) / 10}, true, nil
}

func (r *WidthRecognizer) Close() {
	r.lock.Lock()
	r.closed = true
	r.lock.Unlock()
}

func (r *WidthRecognizer) Closed() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.closed
}

// Toolkit hands out fresh fakes and remembers them, so tests can inspect them afterwards
type Toolkit struct {
	Labels map[int]int // Passed to every WidthRecognizer

	lock        sync.Mutex
	Persons     []*BlobDetector
	Faces       []*BlobDetector
	Recognizers []*WidthRecognizer
}

func (t *Toolkit) NewPersonDetector() (vision.PersonDetector, error) {
	d := &BlobDetector{}
	t.lock.Lock()
	t.Persons = append(t.Persons, d)
	t.lock.Unlock()
	return d, nil
}

func (t *Toolkit) NewFaceDetector() (vision.RegionDetector, error) {
	d := &BlobDetector{}
	t.lock.Lock()
	t.Faces = append(t.Faces, d)
	t.lock.Unlock()
	return d, nil
}

// LoadRecognizer checks that modelPath is a readable file, but does not read it
func (t *Toolkit) LoadRecognizer(modelPath string) (vision.Recognizer, error) {
	if err := vision.CheckModelFile(modelPath); err != nil {
		return nil, err
	}
	r := &WidthRecognizer{Labels: t.Labels}
	t.lock.Lock()
	t.Recognizers = append(t.Recognizers, r)
	t.lock.Unlock()
	return r, nil
}

// FillRect sets every pixel of r to v
func FillRect(img *frame.Gray, r geom.Rect, v byte) {
	r = r.Clip(img.Width, img.Height)
	for y := r.Y; y < r.Y2(); y++ {
		for x := r.X; x < r.X2(); x++ {
			img.Set(x, y, v)
		}
	}
}

// Frame creates a black image with white rectangles
func Frame(width, height int, rects ...geom.Rect) *frame.Gray {
	img, err := frame.NewGray(width, height)
	if err != nil {
		panic(err)
	}
	for _, r := range rects {
		FillRect(img, r, 255)
	}
	return img
}
