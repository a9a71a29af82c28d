package trigger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
)

// Result value names.
// Counts are int, locations are []geom.Rect, labels are []int, confidences are []float32,
// and qualities are []TrackQuality.
const (
	MotionRegions      = "motion_regions"
	MotionRegionsCount = "motion_regions_count"

	AppearedPersons         = "appeared_persons"
	AppearedPersonsCount    = "appeared_persons_count"
	TrackedPersons          = "tracked_persons"
	TrackedPersonsCount     = "tracked_persons_count"
	TrackedPersonsQuality   = "tracked_persons_quality"
	DisappearedPersons      = "disappeared_persons"
	DisappearedPersonsCount = "disappeared_persons_count"

	RecognizedPersons            = "recognized_persons"
	RecognizedPersonsCount       = "recognized_persons_count"
	RecognizedPersonsLabels      = "recognized_persons_labels"
	RecognizedPersonsConfidences = "recognized_persons_confidences"
)

// TrackQuality says how a tracked person's location was obtained in the current frame
type TrackQuality int

const (
	TrackDetected   TrackQuality = iota // The person detector found it
	TrackCorrelated                     // Moved towards a nearby motion region
	TrackCoasting                       // Neither, so the last location is repeated
)

func (q TrackQuality) String() string {
	switch q {
	case TrackDetected:
		return "detected"
	case TrackCorrelated:
		return "correlated"
	case TrackCoasting:
		return "coasting"
	}
	return fmt.Sprintf("TrackQuality(%d)", int(q))
}

func (q TrackQuality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Result is the set of named values produced by one trigger on one frame
type Result struct {
	values map[string]any
}

func newResult() *Result {
	return &Result{values: map[string]any{}}
}

func (r *Result) set(name string, v any) {
	r.values[name] = v
}

func (r *Result) setRects(name, countName string, rects []geom.Rect) {
	r.values[name] = rects
	r.values[countName] = len(rects)
}

// Value returns the named value, or false if the result does not contain it
func (r *Result) Value(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the value names in sorted order
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func getTyped[T any](r *Result, name string) (T, error) {
	var zero T
	v, ok := r.values[name]
	if !ok {
		return zero, fmt.Errorf("%w: result has no value '%v'", errkind.ErrKeyNotAvailable, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: result value '%v' is %T, not %T", errkind.ErrInvalidParameter, name, v, zero)
	}
	return t, nil
}

func (r *Result) Int(name string) (int, error) {
	return getTyped[int](r, name)
}

func (r *Result) Rects(name string) ([]geom.Rect, error) {
	return getTyped[[]geom.Rect](r, name)
}

func (r *Result) Ints(name string) ([]int, error) {
	return getTyped[[]int](r, name)
}

func (r *Result) Floats(name string) ([]float32, error) {
	return getTyped[[]float32](r, name)
}

func (r *Result) Qualities(name string) ([]TrackQuality, error) {
	return getTyped[[]TrackQuality](r, name)
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.values)
}

// Clone makes a copy that can outlive the callback
func (r *Result) Clone() *Result {
	c := newResult()
	for k, v := range r.values {
		switch x := v.(type) {
		case []geom.Rect:
			c.values[k] = append([]geom.Rect(nil), x...)
		case []int:
			c.values[k] = append([]int(nil), x...)
		case []float32:
			c.values[k] = append([]float32(nil), x...)
		case []TrackQuality:
			c.values[k] = append([]TrackQuality(nil), x...)
		default:
			c.values[k] = v
		}
	}
	return c
}

type catalogEntry struct {
	eventType EventType
	names     []string
}

var (
	catalogOnce sync.Once
	catalog     []catalogEntry
)

func getCatalog() []catalogEntry {
	catalogOnce.Do(func() {
		catalog = []catalogEntry{
			{MovementDetected, []string{MotionRegions, MotionRegionsCount}},
			{PersonAppearedDisappeared, []string{
				AppearedPersons, AppearedPersonsCount,
				TrackedPersons, TrackedPersonsCount, TrackedPersonsQuality,
				DisappearedPersons, DisappearedPersonsCount,
			}},
			{PersonRecognized, []string{
				RecognizedPersons, RecognizedPersonsCount,
				RecognizedPersonsLabels, RecognizedPersonsConfidences,
			}},
		}
	})
	return catalog
}

// ForEachEventType calls fn for every supported event type, until fn returns false
func ForEachEventType(fn func(t EventType) bool) {
	for _, e := range getCatalog() {
		if !fn(e.eventType) {
			return
		}
	}
}

// SupportedEventTypes returns every event type that New can create
func SupportedEventTypes() []EventType {
	types := []EventType{}
	ForEachEventType(func(t EventType) bool {
		types = append(types, t)
		return true
	})
	return types
}

// ForEachResultValueName calls fn for every result value that t produces, until fn returns false
func ForEachResultValueName(t EventType, fn func(name string) bool) error {
	for _, e := range getCatalog() {
		if e.eventType == t {
			for _, n := range e.names {
				if !fn(n) {
					break
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: unknown event type %v", errkind.ErrInvalidParameter, t)
}

// ResultValueNames returns the value names of one event type
func ResultValueNames(t EventType) ([]string, error) {
	names := []string{}
	err := ForEachResultValueName(t, func(n string) bool {
		names = append(names, n)
		return true
	})
	return names, err
}

// AllResultValueNames returns the value names of every event type, in catalog order
func AllResultValueNames() []string {
	names := []string{}
	for _, e := range getCatalog() {
		names = append(names, e.names...)
	}
	return names
}
