package events

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/eventtrigger/pkg/vision/visiontest"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type received struct {
	triggerID trigger.TriggerID
	userData  any
	result    *trigger.Result
}

type sink struct {
	events []received
}

func (s *sink) callback(ev *trigger.Event) {
	s.events = append(s.events, received{ev.TriggerID, ev.UserData, ev.Result.Clone()})
}

func newManager(t *testing.T) (*Manager, *visiontest.Toolkit) {
	tk := &visiontest.Toolkit{Labels: map[int]int{40: 3}}
	m, err := NewManager(trigger.Options{Log: logs.NewTestingLog(t), Toolkit: tk})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, tk
}

func writeModel(t *testing.T) string {
	fn := filepath.Join(t.TempDir(), "faces.yml")
	require.NoError(t, os.WriteFile(fn, []byte("model"), 0644))
	return fn
}

var (
	blank  = visiontest.Frame(320, 240)
	square = visiontest.Frame(320, 240, geom.XYWH(100, 100, 40, 40))
)

func TestNewManager(t *testing.T) {
	_, err := NewManager(trigger.Options{})
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
}

func TestSharedTrigger(t *testing.T) {
	m, _ := newManager(t)
	a, b := &sink{}, &sink{}
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, a.callback, "a"))
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 2, 10, nil, config.Config{"sensitivity": 50}, b.callback, "b"))
	require.Equal(t, 1, m.TriggerCount(10))

	require.NoError(t, m.PushSource(blank, 10))
	require.NoError(t, m.PushSource(square, 10))
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, "a", a.events[0].userData)
	require.Equal(t, trigger.TriggerID(2), b.events[0].triggerID)

	// The trigger ran once per frame, not once per subscriber
	stats := m.Stats()
	require.Len(t, stats, 1)
	require.EqualValues(t, 2, stats[0].Frames)
	require.Len(t, stats[0].Triggers, 1)
	require.EqualValues(t, 2, stats[0].Triggers[0].Frames)
	require.Equal(t, 2, stats[0].Triggers[0].Subscribers)
}

func TestDistinctROIsMakeDistinctTriggers(t *testing.T) {
	m, _ := newManager(t)
	s := &sink{}
	right := geom.Polygon{{200, 0}, {320, 0}, {320, 240}, {200, 240}}
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, s.callback, nil))
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 2, 10, right, nil, s.callback, nil))
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 3, 11, right, nil, s.callback, nil))
	require.Equal(t, 2, m.TriggerCount(10))
	require.Equal(t, 1, m.TriggerCount(11))
	require.Equal(t, []trigger.StreamID{10, 11}, m.Streams())

	// The square is outside the right strip, so only the full frame trigger sees it
	require.NoError(t, m.PushSource(blank, 10))
	require.NoError(t, m.PushSource(square, 10))
	require.Len(t, s.events, 1)
	require.Equal(t, trigger.TriggerID(1), s.events[0].triggerID)
}

func TestRegisterErrors(t *testing.T) {
	m, _ := newManager(t)
	s := &sink{}
	require.True(t, errors.Is(m.RegisterEvent(trigger.EventType(9), 1, 1, nil, nil, s.callback, nil), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.RegisterEvent(trigger.MovementDetected, 1, 1, nil, nil, nil, nil), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.RegisterEvent(trigger.MovementDetected, 1, 1, geom.Polygon{{0, 0}, {1, 1}}, nil, s.callback, nil), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.RegisterEvent(trigger.MovementDetected, 1, 1, nil, config.Config{"sensitivity": 300}, s.callback, nil), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.RegisterEvent(trigger.PersonRecognized, 1, 1, nil, nil, s.callback, nil), errkind.ErrInvalidParameter))
	// Nothing was left behind by the failures
	require.Empty(t, m.Streams())

	// The same trigger ID cannot be used twice on a stream, even for another event type
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 1, nil, nil, s.callback, nil))
	err := m.RegisterEvent(trigger.PersonAppearedDisappeared, 1, 1, nil, nil, s.callback, nil)
	require.True(t, errors.Is(err, trigger.ErrAlreadySubscribed))
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
	require.Equal(t, 1, m.TriggerCount(1))
	// But it can be reused on another stream
	require.NoError(t, m.RegisterEvent(trigger.PersonAppearedDisappeared, 1, 2, nil, nil, s.callback, nil))
}

func TestUnregister(t *testing.T) {
	m, _ := newManager(t)
	s := &sink{}
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, s.callback, nil))
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 2, 10, nil, nil, s.callback, nil))

	require.True(t, errors.Is(m.UnregisterEvent(3, 10), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.UnregisterEvent(1, 99), errkind.ErrInvalidParameter))
	require.Equal(t, 1, m.TriggerCount(10))

	require.NoError(t, m.UnregisterEvent(1, 10))
	require.Equal(t, 1, m.TriggerCount(10))
	require.NoError(t, m.PushSource(blank, 10))
	require.NoError(t, m.PushSource(square, 10))
	require.Len(t, s.events, 1)
	require.Equal(t, trigger.TriggerID(2), s.events[0].triggerID)

	require.NoError(t, m.UnregisterEvent(2, 10))
	require.Equal(t, 0, m.TriggerCount(10))
	require.Empty(t, m.Streams())
	require.True(t, errors.Is(m.PushSource(blank, 10), errkind.ErrInvalidOperation))
	require.True(t, errors.Is(m.UnregisterEvent(2, 10), errkind.ErrInvalidParameter))
}

func TestDiscardedDuplicateIsClosed(t *testing.T) {
	m, tk := newManager(t)
	s := &sink{}
	model := writeModel(t)
	require.NoError(t, m.RegisterEvent(trigger.PersonRecognized, 1, 10, nil, config.Config{"model_path": model}, s.callback, nil))
	require.NoError(t, m.RegisterEvent(trigger.PersonRecognized, 2, 10, nil, config.Config{"model_path": model}, s.callback, nil))
	require.Equal(t, 1, m.TriggerCount(10))
	require.Len(t, tk.Recognizers, 2)
	require.False(t, tk.Recognizers[0].Closed())
	require.True(t, tk.Recognizers[1].Closed())

	require.NoError(t, m.PushSource(visiontest.Frame(320, 240, geom.XYWH(20, 20, 40, 40)), 10))
	require.Len(t, s.events, 2)
	labels, err := s.events[1].result.Ints(trigger.RecognizedPersonsLabels)
	require.NoError(t, err)
	require.Equal(t, []int{3}, labels)

	m.Close()
	require.True(t, tk.Recognizers[0].Closed())
	require.True(t, errors.Is(m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, s.callback, nil), errkind.ErrInvalidOperation))
	require.Empty(t, m.Streams())
}

func TestReentrantCallbacks(t *testing.T) {
	m, _ := newManager(t)
	s := &sink{}
	calls := 0
	// The first subscriber removes itself and the second, and registers a third
	selfRemoving := func(ev *trigger.Event) {
		calls++
		require.NoError(t, m.UnregisterEvent(1, 10))
		require.NoError(t, m.UnregisterEvent(2, 10))
		require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 3, 10, nil, nil, s.callback, nil))
	}
	whole := geom.Polygon{{0, 0}, {320, 0}, {320, 240}, {0, 240}}
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, selfRemoving, nil))
	// Same ROI as the full frame, but expressed as a polygon, so it is a second trigger instance
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 2, 10, whole, nil, s.callback, nil))
	require.Equal(t, 2, m.TriggerCount(10))

	require.NoError(t, m.PushSource(blank, 10))
	require.NoError(t, m.PushSource(square, 10))
	require.Equal(t, 1, calls)
	// Trigger 2 was closed before it saw the frame, and trigger 3 did not exist yet
	require.Empty(t, s.events)
	require.Equal(t, 1, m.TriggerCount(10))

	require.NoError(t, m.PushSource(blank, 10))
	require.NoError(t, m.PushSource(square, 10))
	require.Len(t, s.events, 1)
	require.Equal(t, trigger.TriggerID(3), s.events[0].triggerID)
}

type badSource struct{}

func (badSource) Size() (int, int) { return 4, 4 }

func (badSource) ToGray() (*frame.Gray, error) { return nil, errkind.ErrNotSupportedFormat }

func TestPushErrors(t *testing.T) {
	m, _ := newManager(t)
	s := &sink{}
	require.True(t, errors.Is(m.PushSource(blank, 10), errkind.ErrInvalidOperation))
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, s.callback, nil))
	require.True(t, errors.Is(m.PushSource(nil, 10), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(m.PushSource(badSource{}, 10), errkind.ErrNotSupportedFormat))
}

func TestCatalog(t *testing.T) {
	m, _ := newManager(t)
	require.Len(t, m.SupportedEventTypes(), 3)
	all, err := m.ResultValueNames(nil)
	require.NoError(t, err)
	require.Len(t, all, 13)
	et := trigger.MovementDetected
	names, err := m.ResultValueNames(&et)
	require.NoError(t, err)
	require.Equal(t, []string{trigger.MotionRegions, trigger.MotionRegionsCount}, names)
}

func TestConcurrentRegisterAndPush(t *testing.T) {
	m, _ := newManager(t)
	var (
		pushSeq    atomic.Int64 // Sequence number of the push in progress
		persistent atomic.Int64
		violations atomic.Int64
		transient  atomic.Int64

		lock           sync.Mutex
		unregisteredAt = map[trigger.TriggerID]int64{} // Last push that had started when UnregisterEvent returned
	)
	// Keeps the stream alive for the whole test
	require.NoError(t, m.RegisterEvent(trigger.MovementDetected, 1, 10, nil, nil, func(ev *trigger.Event) { persistent.Add(1) }, nil))

	onTransient := func(ev *trigger.Event) {
		transient.Add(1)
		seq := pushSeq.Load()
		lock.Lock()
		at, gone := unregisteredAt[ev.TriggerID]
		lock.Unlock()
		if gone && seq > at {
			violations.Add(1)
		}
	}

	const numPushes = 400
	pushErr := make(chan error, 1)
	done := make(chan bool)
	go func() {
		defer close(done)
		frames := []*frame.Gray{blank, square}
		for i := 0; i < numPushes; i++ {
			pushSeq.Add(1)
			if err := m.PushSource(frames[i%2], 10); err != nil {
				pushErr <- err
				return
			}
		}
	}()

	right := geom.Polygon{{200, 0}, {320, 0}, {320, 240}, {200, 240}}
	id := trigger.TriggerID(2)
	for running := true; running; id++ {
		select {
		case <-done:
			running = false
		default:
		}
		// Even ids share the persistent trigger, odd ids create and close their own
		var roi geom.Polygon
		if id%2 == 1 {
			roi = right
		}
		require.NoError(t, m.RegisterEvent(trigger.MovementDetected, id, 10, roi, nil, onTransient, nil))
		m.Stats()
		require.NoError(t, m.UnregisterEvent(id, 10))
		at := pushSeq.Load()
		lock.Lock()
		unregisteredAt[id] = at
		lock.Unlock()
	}

	select {
	case err := <-pushErr:
		require.NoError(t, err)
	default:
	}
	require.EqualValues(t, 0, violations.Load())
	require.EqualValues(t, numPushes-1, persistent.Load())
	require.Equal(t, 1, m.TriggerCount(10))
	t.Logf("%v registrations, %v transient callbacks", id-2, transient.Load())
}
