package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/mask"
	"github.com/cyclopcam/eventtrigger/pkg/morph"
)

const (
	DefaultSensitivity = 10
	erodeSize          = 3
	dilateSize         = 9
)

// roiSource is the part of Base that the movement detector needs
type roiSource interface {
	ApplyROI(img *frame.Gray, sx, sy float32) error
	roiBounds() (geom.Rect, bool)
}

// MovementDetector finds regions that changed between consecutive frames.
// It is a component of MovementTrigger and PersonAppearanceTrigger.
//
// Pipeline: |I(t) - I(t-1)|, ROI mask, erode, dilate, threshold, blob bounding boxes,
// merge overlapping boxes, discard boxes that stick out of the ROI's bounding box.
type MovementDetector struct {
	// Pixels must change by more than Sensitivity to count as movement.
	// 0 counts every change, and 255 never triggers.
	Sensitivity uint8

	prev    *frame.Gray // nil until the first frame
	cur     *frame.Gray
	diff    *frame.Gray
	scratch []byte
	blobs   morph.BlobFinder
}

func NewMovementDetector() *MovementDetector {
	return &MovementDetector{Sensitivity: DefaultSensitivity}
}

// Reset forgets the previous frame
func (m *MovementDetector) Reset() {
	m.prev = nil
}

// HasPrevious is true once a frame has been cached
func (m *MovementDetector) HasPrevious() bool {
	return m.prev != nil
}

// Detect compares gray to the previous frame. ok is false when there is no previous frame,
// in which case gray is cached and no rectangles are returned.
// The previous frame is only replaced once all of the work has succeeded.
func (m *MovementDetector) Detect(gray *frame.Gray, roi roiSource) (rects []geom.Rect, ok bool, err error) {
	if m.prev != nil && (m.prev.Width != gray.Width || m.prev.Height != gray.Height) {
		// Stream changed resolution
		m.prev = nil
	}
	if err := m.ensureBuffers(gray.Width, gray.Height); err != nil {
		return nil, false, err
	}
	if err := m.cur.CopyFrom(gray); err != nil {
		return nil, false, err
	}
	if m.prev == nil {
		m.swap()
		return nil, false, nil
	}

	w, h, stride := gray.Width, gray.Height, m.cur.Stride
	d := m.diff.Pixels
	if err := mask.AbsDiff(m.cur.Pixels, m.prev.Pixels, d, w, h, stride); err != nil {
		return nil, false, err
	}
	if err := roi.ApplyROI(m.diff, 1, 1); err != nil {
		return nil, false, err
	}
	if err := morph.Erode(d, d, m.scratch, w, h, stride, erodeSize); err != nil {
		return nil, false, err
	}
	if err := morph.Dilate(d, d, m.scratch, w, h, stride, dilateSize); err != nil {
		return nil, false, err
	}
	if err := morph.Threshold(d, d, w, h, stride, m.Sensitivity); err != nil {
		return nil, false, err
	}
	found, err := m.blobs.ExternalRects(d, w, h, stride)
	if err != nil {
		return nil, false, err
	}
	found = geom.MergeOverlapping(found)
	if bounds, limited := roi.roiBounds(); limited {
		kept := found[:0]
		for _, r := range found {
			if bounds.Contains(r) {
				kept = append(kept, r)
			}
		}
		found = kept
	}

	m.swap()
	return found, true, nil
}

func (m *MovementDetector) swap() {
	m.prev, m.cur = m.cur, m.prev
}

func (m *MovementDetector) ensureBuffers(width, height int) error {
	if m.diff != nil && m.diff.Width == width && m.diff.Height == height {
		var err error
		if m.cur == nil {
			// The previous frame took the only image buffer
			m.cur, err = frame.NewGray(width, height)
		}
		return err
	}
	var err error
	if m.cur, err = frame.NewGray(width, height); err != nil {
		return err
	}
	if m.diff, err = frame.NewGray(width, height); err != nil {
		return err
	}
	m.scratch = make([]byte, len(m.diff.Pixels))
	return nil
}

// MovementTrigger fires on every frame where something moved
type MovementTrigger struct {
	Base
	lock     sync.Mutex // Guards detector and closed
	detector *MovementDetector
	closed   bool
}

func NewMovementTrigger(stream StreamID, opts Options) *MovementTrigger {
	t := &MovementTrigger{
		detector: NewMovementDetector(),
	}
	t.init(MovementDetected, stream, opts)
	return t
}

// Configure reads "sensitivity"
func (t *MovementTrigger) Configure(cfg config.Config) error {
	s, err := cfg.IntInRange("sensitivity", DefaultSensitivity, 0, 255)
	if err != nil {
		return err
	}
	t.lock.Lock()
	t.detector.Sensitivity = uint8(s)
	t.lock.Unlock()
	return nil
}

func (t *MovementTrigger) Sensitivity() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return int(t.detector.Sensitivity)
}

func (t *MovementTrigger) Equal(other Trigger) bool {
	_, ok := other.(*MovementTrigger)
	return ok && t.equalBase(other)
}

func (t *MovementTrigger) PushSource(src frame.Source, gray *frame.Gray) error {
	start := time.Now()
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return fmt.Errorf("%w: trigger %v", ErrClosed, t.id)
	}
	rects, ok, err := t.detector.Detect(gray, &t.Base)
	t.lock.Unlock()
	t.frames.Add(1)
	t.frameTime.Since(start)
	if err != nil {
		return err
	}
	if !ok || len(rects) == 0 {
		return nil
	}

	result := newResult()
	result.setRects(MotionRegions, MotionRegionsCount, rects)
	t.dispatch(result, gray)
	return nil
}

func (t *MovementTrigger) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	t.detector.Reset()
}
