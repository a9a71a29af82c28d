package trigger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/vision/visiontest"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func writeModel(t *testing.T) string {
	fn := filepath.Join(t.TempDir(), "faces.yml")
	require.NoError(t, os.WriteFile(fn, []byte("model"), 0644))
	return fn
}

func TestRecognitionDispatchesPerFace(t *testing.T) {
	tk := &visiontest.Toolkit{Labels: map[int]int{40: 7}}
	r, err := NewPersonRecognitionTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: tk})
	require.NoError(t, err)
	require.NoError(t, r.Configure(config.Config{"model_path": writeModel(t)}))
	rec := &recorder{}
	require.NoError(t, r.Subscribe(5, rec.callback, nil, nil))

	faces := []geom.Rect{
		geom.XYWH(20, 20, 40, 40),   // known
		geom.XYWH(100, 20, 40, 40),  // known
		geom.XYWH(200, 20, 60, 60),  // unknown width
		geom.XYWH(200, 150, 20, 20), // smaller than min_face_size
	}
	push(t, r, visiontest.Frame(320, 240, faces...))
	require.Len(t, rec.events, 2)

	first, _ := rec.events[0].Result.Rects(RecognizedPersons)
	require.Equal(t, faces[:1], first)
	second, _ := rec.events[1].Result.Rects(RecognizedPersons)
	require.Equal(t, faces[:2], second)
	n, _ := rec.events[1].Result.Int(RecognizedPersonsCount)
	require.Equal(t, 2, n)
	labels, _ := rec.events[1].Result.Ints(RecognizedPersonsLabels)
	require.Equal(t, []int{7, 7}, labels)
	conf, _ := rec.events[1].Result.Floats(RecognizedPersonsConfidences)
	require.Equal(t, []float32{4, 4}, conf)

	// No faces, no callbacks
	push(t, r, visiontest.Frame(320, 240))
	require.Len(t, rec.events, 2)
}

func TestRecognitionROI(t *testing.T) {
	tk := &visiontest.Toolkit{Labels: map[int]int{40: 1}}
	r, err := NewPersonRecognitionTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: tk})
	require.NoError(t, err)
	require.NoError(t, r.Configure(config.Config{"model_path": writeModel(t)}))
	rec := &recorder{}
	rightHalf := geom.Polygon{{160, 0}, {320, 0}, {320, 240}, {160, 240}}
	require.NoError(t, r.Subscribe(1, rec.callback, nil, rightHalf))

	push(t, r, visiontest.Frame(320, 240, geom.XYWH(20, 20, 40, 40), geom.XYWH(200, 20, 40, 40)))
	require.Len(t, rec.events, 1)
	found, _ := rec.events[0].Result.Rects(RecognizedPersons)
	require.Equal(t, []geom.Rect{geom.XYWH(200, 20, 40, 40)}, found)
	// The face detector was limited to the ROI's bounding box
	require.Equal(t, geom.XYWH(160, 0, 160, 240), tk.Faces[0].Regions()[0])

	// An ROI outside the frame finds nothing, and never asks the detector to search the whole image
	require.NoError(t, r.SetROI(geom.Polygon{{400, 0}, {500, 0}, {500, 100}, {400, 100}}))
	push(t, r, visiontest.Frame(320, 240, geom.XYWH(20, 20, 40, 40)))
	require.Len(t, rec.events, 1)
	require.Equal(t, 1, tk.Faces[0].Calls())

	// Without an ROI the detector is given an empty region, meaning the whole image
	require.NoError(t, r.SetROI(nil))
	push(t, r, visiontest.Frame(320, 240, geom.XYWH(20, 20, 40, 40)))
	require.Len(t, rec.events, 2)
	require.Equal(t, geom.XYWH(0, 0, 320, 240), tk.Faces[0].Regions()[1])
}

func TestRecognitionConfigure(t *testing.T) {
	tk := &visiontest.Toolkit{}
	r, err := NewPersonRecognitionTrigger(1, Options{Log: logs.NewTestingLog(t), Toolkit: tk})
	require.NoError(t, err)

	require.True(t, errors.Is(r.Configure(nil), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(r.Configure(config.Config{"model_path": 5}), errkind.ErrInvalidParameter))
	require.True(t, errors.Is(r.Configure(config.Config{"model_path": "/no/such/model.yml"}), errkind.ErrInvalidPath))

	// Without a model, frames cannot be processed
	img := visiontest.Frame(32, 32)
	require.True(t, errors.Is(r.PushSource(img, img), errkind.ErrInvalidOperation))

	model := writeModel(t)
	require.NoError(t, r.Configure(config.Config{"model_path": model, "min_face_size": 10}))
	require.Equal(t, model, r.ModelPath())
	// Same model again is not reloaded
	require.NoError(t, r.Configure(config.Config{"model_path": model}))
	require.Len(t, tk.Recognizers, 1)

	r.Close()
	require.True(t, tk.Recognizers[0].Closed())
	require.True(t, tk.Faces[0].Closed())
}
