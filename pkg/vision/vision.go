// Package vision defines the detector and recognizer capabilities that the
// trigger engine calls out to. The engine never implements detection itself.
package vision

import (
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
)

// RegionDetector finds rectangles of interest, such as faces or bodies.
// region limits the search to part of the image. An empty region means the whole image.
// Rectangles smaller than minSize (in either dimension) are not reported. Zero means no limit.
type RegionDetector interface {
	DetectRegions(img *frame.Gray, region geom.Rect, minSize int) ([]geom.Rect, error)
	Close()
}

// PersonDetector is a RegionDetector for full bodies.
// The detector scans in steps of CellSize pixels, so search regions should be snapped to it.
type PersonDetector interface {
	RegionDetector
	CellSize() int
}

// Recognition is the label that a recognizer assigned to a region
type Recognition struct {
	Label      int
	Confidence float32 // Lower is better for distance-based recognizers
}

// Recognizer identifies the contents of a region.
// ok is false when nothing in the model matched well enough.
type Recognizer interface {
	Recognize(img *frame.Gray, region geom.Rect) (r Recognition, ok bool, err error)
	Close()
}

// Toolkit creates detectors and loads recognizer models
type Toolkit interface {
	NewPersonDetector() (PersonDetector, error)
	NewFaceDetector() (RegionDetector, error)
	LoadRecognizer(modelPath string) (Recognizer, error)
}

// CheckModelFile classifies a model path failure as ErrInvalidPath or ErrPermissionDenied
func CheckModelFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty model path", errkind.ErrInvalidPath)
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: model file %v not found", errkind.ErrInvalidPath, path)
		} else if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: model file %v", errkind.ErrPermissionDenied, path)
		}
		return fmt.Errorf("%w: model file %v: %v", errkind.ErrInvalidPath, path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: model path %v is a directory", errkind.ErrInvalidPath, path)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: model file %v", errkind.ErrPermissionDenied, path)
		}
		return fmt.Errorf("%w: model file %v: %v", errkind.ErrInvalidPath, path, err)
	}
	f.Close()
	return nil
}

// Unavailable is the Toolkit of a build without any detector backend
type Unavailable struct{}

func (Unavailable) NewPersonDetector() (PersonDetector, error) {
	return nil, fmt.Errorf("%w: no person detector in this build", errkind.ErrInvalidOperation)
}

func (Unavailable) NewFaceDetector() (RegionDetector, error) {
	return nil, fmt.Errorf("%w: no face detector in this build", errkind.ErrInvalidOperation)
}

func (Unavailable) LoadRecognizer(modelPath string) (Recognizer, error) {
	if err := CheckModelFile(modelPath); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: no recognizer in this build", errkind.ErrInvalidOperation)
}
