// Package events is the registry of triggers per video stream.
//
// The Manager creates triggers on demand, shares one trigger between all
// registrations with the same event type, stream and ROI, and fans every pushed
// frame out to the triggers of that frame's stream.
package events

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/gen"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/logs"
)

// Don't log the same trigger's frame errors more often than this
const errorLogInterval = 15 * time.Second

type stream struct {
	id        trigger.StreamID
	lock      sync.Mutex // Guards everything below
	triggers  []trigger.Trigger
	frames    int64
	lastErrAt map[int64]time.Time // Keyed by trigger instance ID
}

// Manager owns all triggers. All methods are safe to call concurrently,
// and may be called from inside an event callback.
type Manager struct {
	Log logs.Log

	opts trigger.Options

	// lock guards streams and closed. Registration holds it for its whole duration,
	// but it is never held while frames are processed or callbacks run.
	lock    sync.RWMutex
	streams map[trigger.StreamID]*stream
	closed  bool
}

// NewManager creates an empty manager. opts is passed to every trigger.
func NewManager(opts trigger.Options) (*Manager, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("%w: no log", errkind.ErrInvalidParameter)
	}
	return &Manager{
		Log:     opts.Log,
		opts:    opts,
		streams: map[trigger.StreamID]*stream{},
	}, nil
}

// RegisterEvent subscribes callback to eventType on a stream.
// triggerID must not already be registered on the stream, for any event type.
// If a trigger with the same event type and ROI already exists on the stream, the
// subscription is added to it, and the new trigger is discarded. cfg is still
// validated in that case, but the existing trigger's settings are kept.
func (m *Manager) RegisterEvent(eventType trigger.EventType, triggerID trigger.TriggerID, streamID trigger.StreamID, roi geom.Polygon, cfg config.Config, callback trigger.Callback, userData any) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: unknown event type %v", errkind.ErrInvalidParameter, eventType)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", errkind.ErrInvalidParameter)
	}
	if len(roi) != 0 && !roi.IsArea() {
		return fmt.Errorf("%w: ROI needs at least 3 points, but has %v", errkind.ErrInvalidParameter, len(roi))
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return fmt.Errorf("%w: manager is closed", errkind.ErrInvalidOperation)
	}

	s := m.streams[streamID]
	if s != nil {
		s.lock.Lock()
		existing := slices.Clone(s.triggers)
		s.lock.Unlock()
		for _, tr := range existing {
			if tr.HasSubscriber(triggerID) {
				return fmt.Errorf("%w: trigger %v is already registered on stream %v (as %v)", trigger.ErrAlreadySubscribed, triggerID, streamID, tr.Type())
			}
		}
	}

	tr, err := trigger.New(eventType, streamID, m.opts)
	if err != nil {
		return err
	}
	if err := tr.SetROI(roi); err != nil {
		tr.Close()
		return err
	}
	if err := tr.Configure(cfg); err != nil {
		tr.Close()
		return err
	}

	if s == nil {
		s = &stream{
			id:        streamID,
			lastErrAt: map[int64]time.Time{},
		}
		m.streams[streamID] = s
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for _, existing := range s.triggers {
		if existing.Equal(tr) {
			tr.Close()
			if err := existing.Subscribe(triggerID, callback, userData, roi); err != nil {
				return err
			}
			m.Log.Infof("Registered %v trigger %v on stream %v (sharing instance %v)", eventType, triggerID, streamID, existing.ID())
			return nil
		}
	}
	if err := tr.Subscribe(triggerID, callback, userData, roi); err != nil {
		tr.Close()
		if len(s.triggers) == 0 {
			delete(m.streams, streamID)
		}
		return err
	}
	s.triggers = append(s.triggers, tr)
	m.Log.Infof("Registered %v trigger %v on stream %v (new instance %v)", eventType, triggerID, streamID, tr.ID())
	return nil
}

// UnregisterEvent removes a subscription. When a trigger loses its last subscriber,
// it is closed and removed from the stream.
func (m *Manager) UnregisterEvent(triggerID trigger.TriggerID, streamID trigger.StreamID) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	s := m.streams[streamID]
	if s == nil {
		return fmt.Errorf("%w: stream %v has no triggers", errkind.ErrInvalidParameter, streamID)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for i, tr := range s.triggers {
		if !tr.Unsubscribe(triggerID) {
			continue
		}
		if tr.NumSubscribers() == 0 {
			s.triggers = gen.DeleteFromSliceOrdered(s.triggers, i)
			delete(s.lastErrAt, tr.ID())
			tr.Close()
			m.Log.Infof("Closed %v trigger instance %v on stream %v", tr.Type(), tr.ID(), streamID)
		}
		if len(s.triggers) == 0 {
			delete(m.streams, streamID)
		}
		return nil
	}
	return fmt.Errorf("%w: trigger %v is not registered on stream %v", errkind.ErrInvalidParameter, triggerID, streamID)
}

// PushSource converts src to grayscale once, and passes it to every trigger on the stream,
// in registration order. A failing trigger is logged and skipped, so that it cannot
// starve the others. Returns ErrInvalidOperation if nothing is registered on the stream.
func (m *Manager) PushSource(src frame.Source, streamID trigger.StreamID) error {
	if src == nil {
		return fmt.Errorf("%w: nil frame", errkind.ErrInvalidParameter)
	}
	m.lock.RLock()
	s := m.streams[streamID]
	m.lock.RUnlock()
	if s == nil {
		return fmt.Errorf("%w: stream %v has no triggers", errkind.ErrInvalidOperation, streamID)
	}

	s.lock.Lock()
	triggers := slices.Clone(s.triggers)
	s.frames++
	s.lock.Unlock()
	if len(triggers) == 0 {
		return fmt.Errorf("%w: stream %v has no triggers", errkind.ErrInvalidOperation, streamID)
	}

	gray, err := src.ToGray()
	if err != nil {
		return err
	}

	for _, tr := range triggers {
		err := tr.PushSource(src, gray)
		if err == nil || errors.Is(err, trigger.ErrClosed) {
			// A trigger is closed when a callback earlier in this loop unregistered it
			continue
		}
		m.logTriggerError(s, tr, err)
	}
	return nil
}

func (m *Manager) logTriggerError(s *stream, tr trigger.Trigger, err error) {
	s.lock.Lock()
	last := s.lastErrAt[tr.ID()]
	now := time.Now()
	show := now.Sub(last) > errorLogInterval
	if show {
		s.lastErrAt[tr.ID()] = now
	}
	s.lock.Unlock()
	if show {
		m.Log.Warnf("Stream %v: %v trigger %v failed: %v", s.id, tr.Type(), tr.ID(), err)
	}
}

// Close closes every trigger. The manager cannot be used afterwards.
func (m *Manager) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, s := range m.streams {
		s.lock.Lock()
		for _, tr := range s.triggers {
			tr.Close()
		}
		s.triggers = nil
		s.lock.Unlock()
		delete(m.streams, id)
	}
}

type StreamStats struct {
	StreamID trigger.StreamID `json:"streamId"`
	Frames   int64            `json:"frames"` // Frames pushed to this stream since its first registration
	Triggers []trigger.Stats  `json:"triggers"`
}

// Stats returns a snapshot of every stream, ordered by stream ID
func (m *Manager) Stats() []StreamStats {
	m.lock.RLock()
	streams := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.lock.RUnlock()

	all := []StreamStats{}
	for _, s := range streams {
		s.lock.Lock()
		st := StreamStats{
			StreamID: s.id,
			Frames:   s.frames,
		}
		triggers := slices.Clone(s.triggers)
		s.lock.Unlock()
		for _, tr := range triggers {
			st.Triggers = append(st.Triggers, tr.Stats())
		}
		all = append(all, st)
	}
	slices.SortFunc(all, func(a, b StreamStats) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})
	return all
}

// Streams returns the IDs of the streams that have at least one trigger
func (m *Manager) Streams() []trigger.StreamID {
	m.lock.RLock()
	defer m.lock.RUnlock()
	ids := make([]trigger.StreamID, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TriggerCount returns the number of distinct trigger instances on a stream
func (m *Manager) TriggerCount(streamID trigger.StreamID) int {
	m.lock.RLock()
	s := m.streams[streamID]
	m.lock.RUnlock()
	if s == nil {
		return 0
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.triggers)
}

// SupportedEventTypes returns the catalog of event types
func (m *Manager) SupportedEventTypes() []trigger.EventType {
	return trigger.SupportedEventTypes()
}

// ResultValueNames returns the result value names of one event type,
// or of every event type if eventType is nil.
func (m *Manager) ResultValueNames(eventType *trigger.EventType) ([]string, error) {
	if eventType == nil {
		return trigger.AllResultValueNames(), nil
	}
	return trigger.ResultValueNames(*eventType)
}
