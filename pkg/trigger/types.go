// Package trigger contains the per-stream event detectors.
//
// A Trigger consumes every frame of one video stream, maintains whatever temporal
// state it needs, and invokes its subscribers' callbacks on the frames where its
// event occurs. Triggers are normally created and shared by events.Manager.
package trigger

import (
	"fmt"
	"strings"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/perfstats"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
	"github.com/cyclopcam/logs"
)

type EventType int

const (
	MovementDetected EventType = iota
	PersonAppearedDisappeared
	PersonRecognized
	numEventTypes
)

var eventTypeNames = [numEventTypes]string{
	"MovementDetected",
	"PersonAppearedDisappeared",
	"PersonRecognized",
}

func (e EventType) Valid() bool {
	return e >= 0 && e < numEventTypes
}

func (e EventType) String() string {
	if !e.Valid() {
		return fmt.Sprintf("EventType(%d)", int(e))
	}
	return eventTypeNames[e]
}

func ParseEventType(s string) (EventType, error) {
	for i, n := range eventTypeNames {
		if strings.EqualFold(s, n) {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event type '%v'", errkind.ErrInvalidParameter, s)
}

func (e EventType) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: event type %d", errkind.ErrInvalidParameter, int(e))
	}
	return []byte(e.String()), nil
}

func (e *EventType) UnmarshalText(b []byte) error {
	t, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*e = t
	return nil
}

// StreamID identifies one video source
type StreamID int64

// TriggerID is a caller-assigned subscription id
type TriggerID int64

var (
	ErrAlreadySubscribed = fmt.Errorf("%w: already subscribed", errkind.ErrInvalidParameter)
	ErrClosed            = fmt.Errorf("%w: trigger is closed", errkind.ErrInvalidOperation)
)

// Event is passed to a Callback.
// Result and Gray are only valid for the duration of the callback.
type Event struct {
	Type      EventType
	TriggerID TriggerID
	StreamID  StreamID
	Result    *Result
	Gray      *frame.Gray // The intensity image of the frame that caused the event
	UserData  any
}

// Callback is invoked synchronously on the goroutine that pushed the frame.
// A callback may register or unregister events.
type Callback func(ev *Event)

// Trigger is the interface shared by all detectors
type Trigger interface {
	Type() EventType
	// ID is unique among all triggers created by this process
	ID() int64
	StreamID() StreamID

	ROI() geom.Polygon
	// SetROI replaces the region of interest. An empty polygon means the whole frame.
	SetROI(roi geom.Polygon) error
	// Configure applies trigger-specific settings. Triggers that load models do so here.
	Configure(cfg config.Config) error

	// Subscribe adds a callback, and replaces the ROI with roi (last writer wins).
	// Returns ErrAlreadySubscribed if id is already subscribed.
	Subscribe(id TriggerID, callback Callback, userData any, roi geom.Polygon) error
	// Unsubscribe returns false if id was not subscribed
	Unsubscribe(id TriggerID) bool
	HasSubscriber(id TriggerID) bool
	NumSubscribers() int

	// PushSource processes the next frame of the stream. gray is the intensity
	// image of src, which the caller has already converted.
	PushSource(src frame.Source, gray *frame.Gray) error

	// Equal is true if other is the same kind of trigger, on the same stream, with the same ROI
	Equal(other Trigger) bool

	Stats() Stats
	Close()
}

// Options are the dependencies of a trigger
type Options struct {
	Log     logs.Log
	Toolkit vision.Toolkit // Required by the person triggers
	Verbose bool           // Log tracking transitions
}

type Stats struct {
	ID          int64                 `json:"id"`
	Type        EventType             `json:"type"`
	Subscribers int                   `json:"subscribers"`
	Frames      int64                 `json:"frames"`
	Dispatches  int64                 `json:"dispatches"`
	FrameTime   perfstats.TimeSummary `json:"frameTime"`
}

// New creates an unsubscribed trigger of the given type
func New(eventType EventType, stream StreamID, opts Options) (Trigger, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("%w: no log", errkind.ErrInvalidParameter)
	}
	switch eventType {
	case MovementDetected:
		return NewMovementTrigger(stream, opts), nil
	case PersonAppearedDisappeared:
		return NewPersonAppearanceTrigger(stream, opts)
	case PersonRecognized:
		return NewPersonRecognitionTrigger(stream, opts)
	}
	return nil, fmt.Errorf("%w: unknown event type %v", errkind.ErrInvalidParameter, eventType)
}
