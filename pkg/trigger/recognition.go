package trigger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
)

const DefaultMinFaceSize = 30

// PersonRecognitionTrigger detects faces and identifies them with a recognizer model.
// Subscribers are called once per recognized face, and each call carries every face
// recognized so far in the frame.
type PersonRecognitionTrigger struct {
	Base

	toolkit vision.Toolkit

	lock        sync.Mutex // Guards everything below
	closed      bool
	modelPath   string
	minFaceSize int
	faces       vision.RegionDetector
	recognizer  vision.Recognizer
	work        *frame.Gray // Masked copy of the frame
}

func NewPersonRecognitionTrigger(stream StreamID, opts Options) (*PersonRecognitionTrigger, error) {
	if opts.Toolkit == nil {
		return nil, fmt.Errorf("%w: person recognition needs a vision toolkit", errkind.ErrInvalidParameter)
	}
	t := &PersonRecognitionTrigger{
		toolkit:     opts.Toolkit,
		minFaceSize: DefaultMinFaceSize,
	}
	t.init(PersonRecognized, stream, opts)
	return t, nil
}

// Configure reads "model_path" (required) and "min_face_size", and loads the model
func (t *PersonRecognitionTrigger) Configure(cfg config.Config) error {
	modelPath, err := cfg.GetString("model_path")
	if errors.Is(err, errkind.ErrKeyNotAvailable) {
		return fmt.Errorf("%w: model_path is required", errkind.ErrInvalidParameter)
	} else if err != nil {
		return err
	}
	minFace, err := cfg.IntInRange("min_face_size", DefaultMinFaceSize, 0, 100000)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return fmt.Errorf("%w: trigger %v", ErrClosed, t.id)
	}
	t.minFaceSize = minFace
	if t.recognizer != nil && modelPath == t.modelPath {
		return nil
	}
	recognizer, err := t.toolkit.LoadRecognizer(modelPath)
	if err != nil {
		return err
	}
	if t.faces == nil {
		if t.faces, err = t.toolkit.NewFaceDetector(); err != nil {
			recognizer.Close()
			return err
		}
	}
	if t.recognizer != nil {
		t.recognizer.Close()
	}
	t.recognizer = recognizer
	t.modelPath = modelPath
	t.Log.Infof("Recognition trigger %v (stream %v): loaded model %v", t.id, t.stream, modelPath)
	return nil
}

func (t *PersonRecognitionTrigger) ModelPath() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.modelPath
}

func (t *PersonRecognitionTrigger) Equal(other Trigger) bool {
	_, ok := other.(*PersonRecognitionTrigger)
	return ok && t.equalBase(other)
}

func (t *PersonRecognitionTrigger) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.faces != nil {
		t.faces.Close()
	}
	if t.recognizer != nil {
		t.recognizer.Close()
	}
	t.work = nil
}

type recognizedFace struct {
	rect geom.Rect
	vision.Recognition
}

func (t *PersonRecognitionTrigger) PushSource(src frame.Source, gray *frame.Gray) error {
	start := time.Now()
	t.lock.Lock()
	recognized, err := t.recognize(gray)
	t.lock.Unlock()
	t.frames.Add(1)
	t.frameTime.Since(start)

	// Each dispatch gets its own Result, holding every face up to and including this one
	for i := range recognized {
		rects := make([]geom.Rect, i+1)
		labels := make([]int, i+1)
		confidences := make([]float32, i+1)
		for j, f := range recognized[:i+1] {
			rects[j] = f.rect
			labels[j] = f.Label
			confidences[j] = f.Confidence
		}
		result := newResult()
		result.setRects(RecognizedPersons, RecognizedPersonsCount, rects)
		result.set(RecognizedPersonsLabels, labels)
		result.set(RecognizedPersonsConfidences, confidences)
		t.dispatch(result, gray)
	}
	return err
}

// recognize returns the faces recognized before any error occurred, along with that error
func (t *PersonRecognitionTrigger) recognize(gray *frame.Gray) ([]recognizedFace, error) {
	if t.closed {
		return nil, fmt.Errorf("%w: trigger %v", ErrClosed, t.id)
	}
	if t.recognizer == nil || t.faces == nil {
		return nil, fmt.Errorf("%w: no recognizer model loaded", errkind.ErrInvalidOperation)
	}
	if t.work == nil || t.work.Width != gray.Width || t.work.Height != gray.Height {
		var err error
		if t.work, err = frame.NewGray(gray.Width, gray.Height); err != nil {
			return nil, err
		}
	}
	if err := t.work.CopyFrom(gray); err != nil {
		return nil, err
	}
	if err := t.ApplyROI(t.work, 1, 1); err != nil {
		return nil, err
	}
	// An empty region searches the whole image
	var region geom.Rect
	if bounds, limited := t.roiBounds(); limited {
		region = bounds.Clip(gray.Width, gray.Height)
		if region.Empty() {
			// The ROI lies entirely outside this frame
			return nil, nil
		}
	}

	found, err := t.faces.DetectRegions(t.work, region, t.minFaceSize)
	if err != nil {
		return nil, err
	}
	recognized := []recognizedFace{}
	for _, face := range found {
		r, ok, err := t.recognizer.Recognize(t.work, face)
		if err != nil {
			return recognized, err
		}
		if ok {
			recognized = append(recognized, recognizedFace{face, r})
		}
	}
	return recognized, nil
}
