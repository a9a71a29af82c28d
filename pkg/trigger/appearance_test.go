package trigger

import (
	"errors"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
	"github.com/cyclopcam/eventtrigger/pkg/vision/visiontest"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func newAppearance(t *testing.T, cfg config.Config) (*PersonAppearanceTrigger, *visiontest.Toolkit, *recorder) {
	tk := &visiontest.Toolkit{}
	p, err := NewPersonAppearanceTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: tk, Verbose: true})
	require.NoError(t, err)
	require.NoError(t, p.Configure(cfg))
	rec := &recorder{}
	require.NoError(t, p.Subscribe(1, rec.callback, nil, nil))
	return p, tk, rec
}

type personCounts struct {
	appeared, tracked, disappeared int
}

func counts(t *testing.T, ev *Event) personCounts {
	a, err := ev.Result.Int(AppearedPersonsCount)
	require.NoError(t, err)
	tr, err := ev.Result.Int(TrackedPersonsCount)
	require.NoError(t, err)
	d, err := ev.Result.Int(DisappearedPersonsCount)
	require.NoError(t, err)
	return personCounts{a, tr, d}
}

func TestPersonLifecycle(t *testing.T) {
	p, tk, rec := newAppearance(t, config.Config{"skip_frames": 0, "grace_frames": 3})
	person := geom.XYWH(100, 100, 40, 80)
	black := func() { push(t, p, visiontest.Frame(640, 480)) }
	withPerson := func() { push(t, p, visiontest.Frame(640, 480, person)) }

	black()
	require.Empty(t, rec.events)

	// Person walks in
	withPerson()
	require.Len(t, rec.events, 1)
	require.Equal(t, personCounts{1, 0, 0}, counts(t, rec.events[0]))
	appeared, _ := rec.events[0].Result.Rects(AppearedPersons)
	require.Equal(t, []geom.Rect{person}, appeared)
	// The detector searched the padded motion region, snapped to 8 pixel cells
	regions := tk.Persons[0].Regions()
	require.Equal(t, geom.XYWH(88, 80, 64, 120), regions[0])

	// Person stands still. The detector still runs over the previous region.
	withPerson()
	require.Len(t, rec.events, 2)
	require.Equal(t, personCounts{0, 1, 0}, counts(t, rec.events[1]))
	q, _ := rec.events[1].Result.Qualities(TrackedPersonsQuality)
	require.Equal(t, []TrackQuality{TrackDetected}, q)

	// Person vanishes. The motion left behind keeps them alive for one frame.
	black()
	require.Equal(t, personCounts{0, 1, 0}, counts(t, rec.events[2]))
	q, _ = rec.events[2].Result.Qualities(TrackedPersonsQuality)
	require.Equal(t, []TrackQuality{TrackCorrelated}, q)

	// Then grace_frames of nothing
	black()
	black()
	require.Equal(t, personCounts{0, 1, 0}, counts(t, rec.events[3]))
	require.Equal(t, personCounts{0, 1, 0}, counts(t, rec.events[4]))
	q, _ = rec.events[4].Result.Qualities(TrackedPersonsQuality)
	require.Equal(t, []TrackQuality{TrackCoasting}, q)
	black()
	require.Len(t, rec.events, 6)
	require.Equal(t, personCounts{0, 0, 1}, counts(t, rec.events[5]))
	gone, _ := rec.events[5].Result.Rects(DisappearedPersons)
	require.Equal(t, []geom.Rect{person}, gone)

	// Nothing left to report, so no more callbacks
	for i := 0; i < 5; i++ {
		black()
	}
	require.Len(t, rec.events, 6)
	require.Equal(t, 0, p.NumTracked())

	disappearedTotal := 0
	for _, ev := range rec.events {
		c := counts(t, ev)
		disappearedTotal += c.disappeared
		if c.disappeared != 0 {
			require.Equal(t, 0, c.tracked)
		}
	}
	require.Equal(t, 1, disappearedTotal)
}

func TestPersonSkipFrames(t *testing.T) {
	p, tk, rec := newAppearance(t, config.Config{"skip_frames": 3, "grace_frames": 10})
	person := geom.XYWH(300, 200, 40, 80)
	push(t, p, visiontest.Frame(640, 480))
	for i := 0; i < 7; i++ {
		push(t, p, visiontest.Frame(640, 480, person))
	}
	// The detector runs on the 1st, 4th and 7th frames after the first
	require.Equal(t, 3, tk.Persons[0].Calls())
	require.Len(t, rec.events, 7)
	require.Equal(t, personCounts{1, 0, 0}, counts(t, rec.events[0]))

	// Promoted to tracked on the next frame, but without a detector run it is only coasting
	require.Equal(t, personCounts{0, 1, 0}, counts(t, rec.events[1]))
	q, _ := rec.events[1].Result.Qualities(TrackedPersonsQuality)
	require.Equal(t, []TrackQuality{TrackCoasting}, q)

	q, _ = rec.events[3].Result.Qualities(TrackedPersonsQuality)
	require.Equal(t, []TrackQuality{TrackDetected}, q)
}

func TestPersonDetectorNeedsMotion(t *testing.T) {
	p, tk, rec := newAppearance(t, config.Config{"skip_frames": 0})
	// The person was there from the start and never moves, so there is no region to search
	for i := 0; i < 4; i++ {
		push(t, p, visiontest.Frame(640, 480, geom.XYWH(10, 10, 40, 80)))
	}
	require.Equal(t, 0, tk.Persons[0].Calls())
	require.Empty(t, rec.events)
}

func TestPersonTwoPeopleMatchOneToOne(t *testing.T) {
	p, _, rec := newAppearance(t, config.Config{"skip_frames": 0})
	a := geom.XYWH(100, 100, 40, 80)
	b := geom.XYWH(200, 100, 40, 80)
	push(t, p, visiontest.Frame(640, 480))
	push(t, p, visiontest.Frame(640, 480, a, b))
	require.Equal(t, personCounts{2, 0, 0}, counts(t, rec.events[0]))

	// Both shift right a little. Each detection must be claimed by a different person.
	a.Offset(6, 0)
	b.Offset(6, 0)
	push(t, p, visiontest.Frame(640, 480, a, b))
	require.Equal(t, personCounts{0, 2, 0}, counts(t, rec.events[1]))
	push(t, p, visiontest.Frame(640, 480, a, b))
	require.Equal(t, personCounts{0, 2, 0}, counts(t, rec.events[2]))
	tracked, _ := rec.events[2].Result.Rects(TrackedPersons)
	require.ElementsMatch(t, []geom.Rect{a, b}, tracked)
}

func TestPersonScaledToNativeResolution(t *testing.T) {
	p, _, rec := newAppearance(t, config.Config{"skip_frames": 0})
	person := geom.XYWH(200, 200, 80, 160)
	push(t, p, visiontest.Frame(1280, 960))
	push(t, p, visiontest.Frame(1280, 960, person))
	require.Len(t, rec.events, 1)
	appeared, _ := rec.events[0].Result.Rects(AppearedPersons)
	require.Len(t, appeared, 1)
	require.InDelta(t, person.X, appeared[0].X, 2)
	require.InDelta(t, person.Y, appeared[0].Y, 2)
	require.InDelta(t, person.X2(), appeared[0].X2(), 2)
	require.InDelta(t, person.Y2(), appeared[0].Y2(), 2)
}

func TestPersonConfigure(t *testing.T) {
	tk := &visiontest.Toolkit{}
	p, err := NewPersonAppearanceTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: tk})
	require.NoError(t, err)
	require.True(t, errors.Is(p.Configure(config.Config{"grace_frames": 0}), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(p.Configure(config.Config{"skip_frames": -1}), errkind.ErrInvalidParameter))
	require.NoError(t, p.Configure(config.Config{"detector_width": 320, "detector_height": 240}))

	p.Close()
	require.True(t, tk.Persons[0].Closed())
	img := visiontest.Frame(64, 64)
	require.True(t, errors.Is(p.PushSource(img, img), errkind.ErrInvalidOperation))

	_, err = NewPersonAppearanceTrigger(1, Options{Log: logs.NewTestingLog(t)})
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
	_, err = NewPersonAppearanceTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: vision.Unavailable{}})
	require.True(t, errors.Is(err, errkind.ErrInvalidOperation))
}

func TestPersonROIMaskBuiltOncePerResolution(t *testing.T) {
	p, _, rec := newAppearance(t, config.Config{"skip_frames": 0})
	left := geom.Polygon{{0, 0}, {640, 0}, {640, 960}, {0, 960}}
	require.NoError(t, p.SetROI(left))
	person := geom.XYWH(200, 200, 80, 160)

	// Native frames are 1280x960 and the detector runs at 640x480, so the ROI is applied at two resolutions
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			push(t, p, visiontest.Frame(1280, 960))
		} else {
			push(t, p, visiontest.Frame(1280, 960, person))
		}
	}
	require.NotEmpty(t, rec.events)
	require.EqualValues(t, 2, p.maskBuilds)
	require.Len(t, p.masks, 2)

	// Changing the ROI invalidates both masks
	require.NoError(t, p.SetROI(geom.Polygon{{0, 0}, {1280, 0}, {1280, 480}, {0, 480}}))
	require.Empty(t, p.masks)
	push(t, p, visiontest.Frame(1280, 960))
	require.EqualValues(t, 4, p.maskBuilds)

	// Setting the same ROI again keeps them
	require.NoError(t, p.SetROI(geom.Polygon{{0, 0}, {1280, 0}, {1280, 480}, {0, 480}}))
	require.Len(t, p.masks, 2)
}
