// Package annotate draws trigger results over their frames, for debugging detector settings
package annotate

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/cyclopcam/eventtrigger/pkg/gen"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/cyclopcam/eventtrigger/pkg/trigger"
	"github.com/cyclopcam/logs"
	"github.com/fogleman/gg"
)

type style struct {
	r, g, b float64
	dashed  bool
}

var styles = map[string]style{
	trigger.MotionRegions:      {1, 1, 0, false},
	trigger.AppearedPersons:    {0, 1, 0, false},
	trigger.TrackedPersons:     {0, 0.8, 1, false},
	trigger.DisappearedPersons: {1, 0, 0, true},
	trigger.RecognizedPersons:  {1, 0, 1, false},
}

// Draw returns an RGB copy of img, with every rectangle in result drawn over it.
// Tracks that are coasting are dashed, and recognized faces are labelled.
func Draw(img *frame.Gray, result *trigger.Result) (image.Image, error) {
	if img == nil || result == nil {
		return nil, fmt.Errorf("%w: nothing to draw", errkind.ErrInvalidParameter)
	}
	dc := gg.NewContextForImage(img.Image())
	lineWidth := max(2, float64(img.Width)/320)
	dc.SetLineWidth(lineWidth)

	for _, name := range result.Names() {
		st, ok := styles[name]
		if !ok {
			continue
		}
		rects, err := result.Rects(name)
		if err != nil {
			return nil, err
		}
		var qualities []trigger.TrackQuality
		if name == trigger.TrackedPersons {
			qualities, _ = result.Qualities(trigger.TrackedPersonsQuality)
		}
		var labels []int
		if name == trigger.RecognizedPersons {
			labels, _ = result.Ints(trigger.RecognizedPersonsLabels)
		}
		for i, r := range rects {
			dashed := st.dashed || (i < len(qualities) && qualities[i] == trigger.TrackCoasting)
			strokeRect(dc, r, st, dashed)
			if i < len(labels) {
				// Keep the label inside the image when the face is at the top edge
				baseline := gen.Clamp(float64(r.Y)-2, dc.FontHeight(), float64(img.Height))
				dc.DrawStringAnchored(fmt.Sprintf("%v", labels[i]), float64(r.X), baseline, 0, 0)
			}
		}
	}
	return dc.Image(), nil
}

func strokeRect(dc *gg.Context, r geom.Rect, st style, dashed bool) {
	if dashed {
		dc.SetDash(4, 3)
	} else {
		dc.SetDash()
	}
	dc.SetRGB(st.r, st.g, st.b)
	dc.DrawRectangle(float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height))
	dc.Stroke()
}

// Writer saves an annotated PNG for every event it receives
type Writer struct {
	Log logs.Log
	Dir string

	lock      sync.Mutex
	seq       map[trigger.StreamID]int
	written   int
	lastErrAt time.Time
}

func NewWriter(log logs.Log, dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, fmt.Errorf("Failed to create annotation directory '%v': %w", dir, err)
	}
	return &Writer{
		Log: log,
		Dir: dir,
		seq: map[trigger.StreamID]int{},
	}, nil
}

// Save draws ev and writes it to Dir. Returns the filename.
func (w *Writer) Save(ev *trigger.Event) (string, error) {
	img, err := Draw(ev.Gray, ev.Result)
	if err != nil {
		return "", err
	}
	w.lock.Lock()
	w.seq[ev.StreamID]++
	n := w.seq[ev.StreamID]
	w.lock.Unlock()

	filename := filepath.Join(w.Dir, fmt.Sprintf("stream%v-%06d-%v-%v.png", ev.StreamID, n, ev.Type, ev.TriggerID))
	if err := gg.SavePNG(filename, img); err != nil {
		return "", err
	}
	w.lock.Lock()
	w.written++
	w.lock.Unlock()
	return filename, nil
}

// Callback is a trigger.Callback that saves every event
func (w *Writer) Callback(ev *trigger.Event) {
	if _, err := w.Save(ev); err != nil {
		w.lock.Lock()
		show := time.Now().Sub(w.lastErrAt) > 15*time.Second
		if show {
			w.lastErrAt = time.Now()
		}
		w.lock.Unlock()
		if show {
			w.Log.Errorf("Failed to save annotated frame: %v", err)
		}
	}
}

// Written returns the number of images saved so far
func (w *Writer) Written() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.written
}
