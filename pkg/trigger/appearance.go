package trigger

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
)

const (
	DefaultSkipFrames     = 6
	DefaultGraceFrames    = 7
	DefaultDetectorWidth  = 640
	DefaultDetectorHeight = 480

	detectionPadding = 0.25 // Grow the detection region by this fraction on each axis
	maxMotionGrowth  = 1.5  // A motion region may be at most this much larger than the person it moves
	motionStep       = 0.5  // Fraction of the distance that a person moves towards its motion region
)

type trackedPerson struct {
	id              int64
	rect            geom.Rect // At detector resolution
	framesRemaining int
	quality         TrackQuality
}

// PersonAppearanceTrigger reports people appearing, moving, and disappearing.
//
// Every frame is first run through a MovementDetector. The person detector is expensive,
// so it only runs on every SkipFrames'th frame, and only over the region where there
// was motion (plus the people we're already tracking). On the other frames, tracked
// people are moved along with any motion that overlaps them. A person that is neither
// detected nor correlated with motion for GraceFrames consecutive frames is reported
// as disappeared.
//
// All tracking is done at the detector resolution, and rectangles are scaled back
// to the stream's resolution when reported.
type PersonAppearanceTrigger struct {
	Base

	lock     sync.Mutex // Guards everything below
	closed   bool
	detector vision.PersonDetector
	movement *MovementDetector

	skipFrames     int
	graceFrames    int
	detectorWidth  int
	detectorHeight int

	small            *frame.Gray // Frame resized to detector resolution
	nativeWidth      int
	nativeHeight     int
	factorX, factorY float32 // native = detector * factor

	rectToDetect geom.Rect
	wholeFrame   bool // rectToDetect has never been set by motion
	tracked      []*trackedPerson
	pending      []geom.Rect // Appeared last frame. Promoted to tracked at the start of the next frame.
	frameCounter int64
	nextPersonID int64
}

func NewPersonAppearanceTrigger(stream StreamID, opts Options) (*PersonAppearanceTrigger, error) {
	if opts.Toolkit == nil {
		return nil, fmt.Errorf("%w: person detection needs a vision toolkit", errkind.ErrInvalidParameter)
	}
	detector, err := opts.Toolkit.NewPersonDetector()
	if err != nil {
		return nil, err
	}
	t := &PersonAppearanceTrigger{
		detector:       detector,
		movement:       NewMovementDetector(),
		skipFrames:     DefaultSkipFrames,
		graceFrames:    DefaultGraceFrames,
		detectorWidth:  DefaultDetectorWidth,
		detectorHeight: DefaultDetectorHeight,
		wholeFrame:     true,
	}
	t.init(PersonAppearedDisappeared, stream, opts)
	return t, nil
}

// Configure reads "sensitivity", "skip_frames", "grace_frames", "detector_width", and "detector_height"
func (t *PersonAppearanceTrigger) Configure(cfg config.Config) error {
	sensitivity, err := cfg.IntInRange("sensitivity", DefaultSensitivity, 0, 255)
	if err != nil {
		return err
	}
	skip, err := cfg.IntInRange("skip_frames", DefaultSkipFrames, 0, 10000)
	if err != nil {
		return err
	}
	grace, err := cfg.IntInRange("grace_frames", DefaultGraceFrames, 1, 10000)
	if err != nil {
		return err
	}
	dw, err := cfg.IntInRange("detector_width", DefaultDetectorWidth, 16, 8192)
	if err != nil {
		return err
	}
	dh, err := cfg.IntInRange("detector_height", DefaultDetectorHeight, 16, 8192)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.movement.Sensitivity = uint8(sensitivity)
	t.skipFrames = skip
	t.graceFrames = grace
	if dw != t.detectorWidth || dh != t.detectorHeight {
		t.detectorWidth = dw
		t.detectorHeight = dh
		t.resetTracking()
	}
	return nil
}

func (t *PersonAppearanceTrigger) Equal(other Trigger) bool {
	_, ok := other.(*PersonAppearanceTrigger)
	return ok && t.equalBase(other)
}

func (t *PersonAppearanceTrigger) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.detector.Close()
	t.movement.Reset()
}

func (t *PersonAppearanceTrigger) PushSource(src frame.Source, gray *frame.Gray) error {
	start := time.Now()
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return fmt.Errorf("%w: trigger %v", ErrClosed, t.id)
	}
	result, err := t.processFrame(gray)
	t.lock.Unlock()
	t.frames.Add(1)
	t.frameTime.Since(start)
	if err != nil {
		return err
	}
	if result != nil {
		t.dispatch(result, gray)
	}
	return nil
}

func (t *PersonAppearanceTrigger) resetTracking() {
	t.small = nil
	t.tracked = nil
	t.pending = nil
	t.rectToDetect = geom.Rect{}
	t.wholeFrame = true
	t.frameCounter = 0
}

// processFrame returns nil if there is nothing to report
func (t *PersonAppearanceTrigger) processFrame(gray *frame.Gray) (*Result, error) {
	movNative, ok, err := t.movement.Detect(gray, &t.Base)
	if err != nil || !ok {
		return nil, err
	}

	if t.small == nil || t.nativeWidth != gray.Width || t.nativeHeight != gray.Height {
		t.resetTracking()
		if t.small, err = frame.NewGray(t.detectorWidth, t.detectorHeight); err != nil {
			return nil, err
		}
		t.nativeWidth = gray.Width
		t.nativeHeight = gray.Height
		t.factorX = float32(gray.Width) / float32(t.detectorWidth)
		t.factorY = float32(gray.Height) / float32(t.detectorHeight)
	}
	if err := frame.ResizeInto(gray, t.small); err != nil {
		return nil, err
	}
	if err := t.ApplyROI(t.small, 1/t.factorX, 1/t.factorY); err != nil {
		return nil, err
	}

	movement := make([]geom.Rect, 0, len(movNative))
	for _, r := range movNative {
		r = r.Scale(1/t.factorX, 1/t.factorY).Clip(t.detectorWidth, t.detectorHeight)
		if !r.Empty() {
			movement = append(movement, r)
		}
	}
	if u := geom.UnionAll(movement); !u.Empty() {
		t.rectToDetect = u
		t.wholeFrame = false
	}

	runDetector := (t.skipFrames == 0 || t.frameCounter%int64(t.skipFrames) == 0) && !t.wholeFrame
	t.frameCounter++

	// Run the detector before touching any tracking state, so that a detector failure leaves it intact
	var detections []geom.Rect
	if runDetector {
		detections, err = t.detector.DetectRegions(t.small, t.detectionRegion(), 0)
		if err != nil {
			return nil, err
		}
	}

	for _, r := range t.pending {
		t.nextPersonID++
		t.tracked = append(t.tracked, &trackedPerson{
			id:              t.nextPersonID,
			rect:            r,
			framesRemaining: t.graceFrames,
			quality:         TrackDetected,
		})
	}
	t.pending = t.pending[:0]

	matched := make([]bool, len(t.tracked))
	appeared := []geom.Rect{}
	if runDetector {
		for _, d := range t.matchDetections(detections, matched) {
			appeared = append(appeared, d)
			t.pending = append(t.pending, d)
		}
	}

	t.correlateWithMovement(movement, matched)

	disappeared := []geom.Rect{}
	remaining := t.tracked[:0]
	for _, p := range t.tracked {
		if p.framesRemaining > 0 {
			remaining = append(remaining, p)
			continue
		}
		disappeared = append(disappeared, p.rect)
		if t.Verbose {
			t.Log.Debugf("Person trigger %v (stream %v): person %v disappeared at %v,%v", t.id, t.stream, p.id, p.rect.Center().X, p.rect.Center().Y)
		}
	}
	clear(t.tracked[len(remaining):])
	t.tracked = remaining

	if len(appeared) == 0 && len(t.tracked) == 0 && len(disappeared) == 0 {
		return nil, nil
	}
	if t.Verbose && len(appeared) != 0 {
		t.Log.Debugf("Person trigger %v (stream %v): %v person(s) appeared", t.id, t.stream, len(appeared))
	}

	trackedRects := make([]geom.Rect, len(t.tracked))
	qualities := make([]TrackQuality, len(t.tracked))
	for i, p := range t.tracked {
		trackedRects[i] = t.toNative(p.rect)
		qualities[i] = p.quality
	}
	for i := range appeared {
		appeared[i] = t.toNative(appeared[i])
	}
	for i := range disappeared {
		disappeared[i] = t.toNative(disappeared[i])
	}

	result := newResult()
	result.setRects(AppearedPersons, AppearedPersonsCount, appeared)
	result.setRects(TrackedPersons, TrackedPersonsCount, trackedRects)
	result.set(TrackedPersonsQuality, qualities)
	result.setRects(DisappearedPersons, DisappearedPersonsCount, disappeared)
	return result, nil
}

func (t *PersonAppearanceTrigger) toNative(r geom.Rect) geom.Rect {
	return r.Scale(t.factorX, t.factorY).Clip(t.nativeWidth, t.nativeHeight)
}

// detectionRegion is the motion region plus everybody we're tracking, padded and
// snapped to the detector's cell size
func (t *PersonAppearanceTrigger) detectionRegion() geom.Rect {
	region := t.rectToDetect
	for _, p := range t.tracked {
		region = region.Union(p.rect)
	}
	for _, r := range t.pending {
		region = region.Union(r)
	}
	return region.Pad(detectionPadding).Snap(t.detector.CellSize()).Clip(t.detectorWidth, t.detectorHeight)
}

// matchDetections pairs detections with tracked people, one-to-one, greedily by
// largest intersection area. Matched people take the detection's position.
// Returns the detections that matched nobody.
func (t *PersonAppearanceTrigger) matchDetections(detections []geom.Rect, matched []bool) []geom.Rect {
	type pair struct {
		det, trk int
		area     int
	}
	pairs := []pair{}
	if len(t.tracked) != 0 {
		fb := flatbush.NewFlatbush[int32]()
		fb.Reserve(len(t.tracked))
		for _, p := range t.tracked {
			fb.Add(int32(p.rect.X), int32(p.rect.Y), int32(p.rect.X2()), int32(p.rect.Y2()))
		}
		fb.Finish()
		near := []int{}
		for i, d := range detections {
			near = fb.SearchFast(int32(d.X), int32(d.Y), int32(d.X2()), int32(d.Y2()), near)
			for _, j := range near {
				if area := d.Intersection(t.tracked[j].rect).Area(); area > 0 {
					pairs = append(pairs, pair{i, j, area})
				}
			}
		}
	}
	slices.SortFunc(pairs, func(a, b pair) int {
		if c := cmp.Compare(b.area, a.area); c != 0 {
			return c
		}
		if c := cmp.Compare(a.det, b.det); c != 0 {
			return c
		}
		return cmp.Compare(a.trk, b.trk)
	})

	detUsed := make([]bool, len(detections))
	for _, p := range pairs {
		if detUsed[p.det] || matched[p.trk] {
			continue
		}
		detUsed[p.det] = true
		matched[p.trk] = true
		person := t.tracked[p.trk]
		person.rect = detections[p.det]
		person.framesRemaining = t.graceFrames
		person.quality = TrackDetected
	}

	unmatched := []geom.Rect{}
	for i, d := range detections {
		if !detUsed[i] {
			unmatched = append(unmatched, d)
		}
	}
	return unmatched
}

// correlateWithMovement nudges every unmatched person towards the motion region that
// overlaps it most, provided that region is not much larger than the person.
// People with no such region lose one frame of grace.
func (t *PersonAppearanceTrigger) correlateWithMovement(movement []geom.Rect, matched []bool) {
	var fb *flatbush.Flatbush[int32]
	if len(movement) != 0 {
		fb = flatbush.NewFlatbush[int32]()
		fb.Reserve(len(movement))
		for _, m := range movement {
			fb.Add(int32(m.X), int32(m.Y), int32(m.X2()), int32(m.Y2()))
		}
		fb.Finish()
	}

	near := []int{}
	for i, p := range t.tracked {
		if matched[i] {
			continue
		}
		best := -1
		bestOverlap := 0
		if fb != nil {
			near = fb.SearchFast(int32(p.rect.X), int32(p.rect.Y), int32(p.rect.X2()), int32(p.rect.Y2()), near)
			for _, j := range near {
				m := movement[j]
				overlap := p.rect.Intersection(m).Area()
				if overlap > bestOverlap && float32(m.Area()) <= maxMotionGrowth*float32(p.rect.Area()) {
					best = j
					bestOverlap = overlap
				}
			}
		}
		if best != -1 {
			p.rect = p.rect.MoveCenterTowards(movement[best], motionStep)
			p.framesRemaining = t.graceFrames
			p.quality = TrackCorrelated
		} else {
			p.framesRemaining--
			p.quality = TrackCoasting
		}
	}
}

// NumTracked returns the number of people currently being tracked
func (t *PersonAppearanceTrigger) NumTracked() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.tracked)
}
