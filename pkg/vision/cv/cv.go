//go:build opencv

// Package cv implements the vision capabilities with OpenCV (via gocv).
// Build with -tags opencv.
package cv

import (
	"fmt"
	"image"
	"sync"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/vision"
	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// Toolkit creates OpenCV detectors
type Toolkit struct {
	FaceCascadePath string  // Haar cascade XML, eg haarcascade_frontalface_default.xml
	RecognizerLimit float32 // LBPH distance above which a face is "unknown". Zero keeps the model's threshold.
}

func (t *Toolkit) NewPersonDetector() (vision.PersonDetector, error) {
	hog := gocv.NewHOGDescriptor()
	people := gocv.HOGDefaultPeopleDetector()
	defer people.Close()
	if err := hog.SetSVMDetector(people); err != nil {
		hog.Close()
		return nil, fmt.Errorf("%w: HOG SetSVMDetector: %v", errkind.ErrInternal, err)
	}
	return &HOGPersonDetector{hog: hog}, nil
}

func (t *Toolkit) NewFaceDetector() (vision.RegionDetector, error) {
	if err := vision.CheckModelFile(t.FaceCascadePath); err != nil {
		return nil, err
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(t.FaceCascadePath) {
		c.Close()
		return nil, fmt.Errorf("%w: unable to load cascade %v", errkind.ErrInvalidPath, t.FaceCascadePath)
	}
	return &CascadeDetector{classifier: c}, nil
}

func (t *Toolkit) LoadRecognizer(modelPath string) (vision.Recognizer, error) {
	if err := vision.CheckModelFile(modelPath); err != nil {
		return nil, err
	}
	r := contrib.NewLBPHFaceRecognizer()
	r.LoadFile(modelPath)
	if t.RecognizerLimit > 0 {
		r.SetThreshold(t.RecognizerLimit)
	}
	return &LBPHRecognizer{model: r}, nil
}

// toMat copies the region of img into a new 8-bit single channel Mat
func toMat(img *frame.Gray, region geom.Rect) (gocv.Mat, geom.Rect, error) {
	if region.Empty() {
		region = geom.XYWH(0, 0, img.Width, img.Height)
	}
	region = region.Clip(img.Width, img.Height)
	if region.Empty() {
		return gocv.Mat{}, region, fmt.Errorf("%w: region outside of image", errkind.ErrInvalidParameter)
	}
	buf := make([]byte, region.Width*region.Height)
	for y := 0; y < region.Height; y++ {
		src := img.Pixels[(region.Y+y)*img.Stride+region.X:]
		copy(buf[y*region.Width:(y+1)*region.Width], src[:region.Width])
	}
	m, err := gocv.NewMatFromBytes(region.Height, region.Width, gocv.MatTypeCV8U, buf)
	return m, region, err
}

func fromRectangles(rects []image.Rectangle, offset geom.Rect, minSize int) []geom.Rect {
	out := make([]geom.Rect, 0, len(rects))
	for _, r := range rects {
		if r.Dx() < minSize || r.Dy() < minSize {
			continue
		}
		out = append(out, geom.FromCorners(r.Min.X+offset.X, r.Min.Y+offset.Y, r.Max.X+offset.X, r.Max.Y+offset.Y))
	}
	return out
}

// HOGPersonDetector is OpenCV's default HOG + linear SVM people detector
type HOGPersonDetector struct {
	lock sync.Mutex
	hog  gocv.HOGDescriptor
}

// CellSize is the HOG block stride
func (d *HOGPersonDetector) CellSize() int {
	return 8
}

func (d *HOGPersonDetector) DetectRegions(img *frame.Gray, region geom.Rect, minSize int) ([]geom.Rect, error) {
	m, region, err := toMat(img, region)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	d.lock.Lock()
	defer d.lock.Unlock()
	return fromRectangles(d.hog.DetectMultiScale(m), region, minSize), nil
}

func (d *HOGPersonDetector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.hog.Close()
}

// CascadeDetector is a Haar/LBP cascade classifier
type CascadeDetector struct {
	lock       sync.Mutex
	classifier gocv.CascadeClassifier
}

func (d *CascadeDetector) DetectRegions(img *frame.Gray, region geom.Rect, minSize int) ([]geom.Rect, error) {
	m, region, err := toMat(img, region)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	d.lock.Lock()
	defer d.lock.Unlock()
	found := d.classifier.DetectMultiScaleWithParams(m, 1.1, 3, 0, image.Pt(minSize, minSize), image.Pt(0, 0))
	return fromRectangles(found, region, minSize), nil
}

func (d *CascadeDetector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.classifier.Close()
}

// LBPHRecognizer identifies faces with a local binary pattern histogram model
type LBPHRecognizer struct {
	lock  sync.Mutex
	model *contrib.LBPHFaceRecognizer
}

func (r *LBPHRecognizer) Recognize(img *frame.Gray, region geom.Rect) (vision.Recognition, bool, error) {
	m, _, err := toMat(img, region)
	if err != nil {
		return vision.Recognition{}, false, err
	}
	defer m.Close()
	r.lock.Lock()
	defer r.lock.Unlock()
	resp := r.model.PredictExtendedResponse(m)
	// LBPH reports -1 when the nearest neighbour is beyond the threshold
	if resp.Label < 0 {
		return vision.Recognition{}, false, nil
	}
	return vision.Recognition{Label: int(resp.Label), Confidence: resp.Confidence}, true, nil
}

func (r *LBPHRecognizer) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.model.Close()
}
