package trigger

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/event"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/gen"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/idgen"
	"github.com/cyclopcam/eventtrigger/pkg/mask"
	"github.com/cyclopcam/eventtrigger/pkg/perfstats"
	"github.com/cyclopcam/logs"
)

var instanceIDs idgen.Int64

type subscription struct {
	callback Callback
	userData any
}

// maskKey identifies the frame geometry that a cached ROI mask was rasterized for
type maskKey struct {
	width, height, stride int
	sx, sy                float32
}

type roiMask struct {
	key    maskKey
	pixels []byte
}

// Number of frame geometries that ROI masks are kept for
const maxCachedMasks = 4

// Base is embedded by every trigger. It owns the stream id, the ROI,
// the subscriber list, and the ROI mask cache.
type Base struct {
	Log     logs.Log
	Verbose bool

	eventType EventType
	id        int64
	stream    StreamID

	subs event.Subscribers[TriggerID, subscription]

	roiLock    sync.Mutex // Guards everything below
	roi        geom.Polygon
	masks      []roiMask // Most recently built last
	maskBuilds int64     // Number of times a mask was rasterized

	frameTime  perfstats.TimeAccumulator
	frames     atomic.Int64
	dispatches atomic.Int64
}

func (b *Base) init(eventType EventType, stream StreamID, opts Options) {
	b.Log = opts.Log
	b.Verbose = opts.Verbose
	b.eventType = eventType
	b.id = instanceIDs.Next()
	b.stream = stream
}

func (b *Base) Type() EventType {
	return b.eventType
}

func (b *Base) ID() int64 {
	return b.id
}

func (b *Base) StreamID() StreamID {
	return b.stream
}

func (b *Base) ROI() geom.Polygon {
	b.roiLock.Lock()
	defer b.roiLock.Unlock()
	return b.roi.Clone()
}

func (b *Base) SetROI(roi geom.Polygon) error {
	if len(roi) != 0 && !roi.IsArea() {
		return fmt.Errorf("%w: ROI needs at least 3 points, but has %v", errkind.ErrInvalidParameter, len(roi))
	}
	b.roiLock.Lock()
	defer b.roiLock.Unlock()
	if b.roi.Equal(roi) {
		return nil
	}
	b.roi = roi.Clone()
	b.masks = nil
	return nil
}

// hasROI is true if the ROI restricts the frame
func (b *Base) hasROI() bool {
	b.roiLock.Lock()
	defer b.roiLock.Unlock()
	return b.roi.IsArea()
}

// roiBounds returns the bounding box of the ROI at native resolution, or false if the whole frame is in scope
func (b *Base) roiBounds() (geom.Rect, bool) {
	b.roiLock.Lock()
	defer b.roiLock.Unlock()
	if !b.roi.IsArea() {
		return geom.Rect{}, false
	}
	return b.roi.Bounds(), true
}

// ApplyROI zeroes every pixel of img outside the ROI.
// The ROI is scaled by (sx, sy) first, for images that are not at native resolution.
// Without an ROI this does nothing.
func (b *Base) ApplyROI(img *frame.Gray, sx, sy float32) error {
	b.roiLock.Lock()
	defer b.roiLock.Unlock()
	if !b.roi.IsArea() {
		return nil
	}
	m, err := b.maskForLocked(maskKey{img.Width, img.Height, img.Stride, sx, sy})
	if err != nil {
		return err
	}
	return mask.ApplyMaskFull(img.Pixels, m, img.Pixels, img.Width, img.Height, img.Stride)
}

// maskForLocked returns the cached mask for key, rasterizing it if this is the first
// frame of that geometry since the ROI was set. Caller must hold roiLock.
func (b *Base) maskForLocked(key maskKey) ([]byte, error) {
	for _, c := range b.masks {
		if c.key == key {
			return c.pixels, nil
		}
	}
	m := make([]byte, key.stride*key.height)
	poly := b.roi
	if key.sx != 1 || key.sy != 1 {
		poly = poly.Scale(key.sx, key.sy)
	}
	if err := mask.RasterizePolygonInto(m, key.width, key.height, key.stride, poly); err != nil {
		return nil, err
	}
	b.maskBuilds++
	if len(b.masks) == maxCachedMasks {
		b.masks = gen.DeleteFromSliceOrdered(b.masks, 0)
	}
	b.masks = append(b.masks, roiMask{key, m})
	return m, nil
}

func (b *Base) Subscribe(id TriggerID, callback Callback, userData any, roi geom.Polygon) error {
	if callback == nil {
		return fmt.Errorf("%w: nil callback", errkind.ErrInvalidParameter)
	}
	if len(roi) != 0 && !roi.IsArea() {
		return fmt.Errorf("%w: ROI needs at least 3 points, but has %v", errkind.ErrInvalidParameter, len(roi))
	}
	if !b.subs.Add(id, subscription{callback, userData}) {
		return fmt.Errorf("%w: trigger %v", ErrAlreadySubscribed, id)
	}
	return b.SetROI(roi)
}

func (b *Base) Unsubscribe(id TriggerID) bool {
	return b.subs.Remove(id)
}

func (b *Base) HasSubscriber(id TriggerID) bool {
	return b.subs.Has(id)
}

func (b *Base) NumSubscribers() int {
	return b.subs.Len()
}

// equalBase compares the properties that decide whether two triggers can be shared
func (b *Base) equalBase(other Trigger) bool {
	return other != nil && other.Type() == b.eventType && other.StreamID() == b.stream && other.ROI().Equal(b.ROI())
}

// dispatch invokes every subscriber. Must not be called while holding a trigger lock,
// because callbacks are allowed to unsubscribe or close this trigger.
func (b *Base) dispatch(result *Result, gray *frame.Gray) {
	b.dispatches.Add(1)
	b.subs.Send(func(id TriggerID, s subscription) {
		s.callback(&Event{
			Type:      b.eventType,
			TriggerID: id,
			StreamID:  b.stream,
			Result:    result,
			Gray:      gray,
			UserData:  s.userData,
		})
	})
}

func (b *Base) Stats() Stats {
	return Stats{
		ID:          b.id,
		Type:        b.eventType,
		Subscribers: b.subs.Len(),
		Frames:      b.frames.Load(),
		Dispatches:  b.dispatches.Load(),
		FrameTime:   b.frameTime.Summary(),
	}
}
