package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
)

// Stream is a sequence of image files that is replayed as one video stream
type Stream struct {
	ID     int64  `json:"id"`
	Frames string `json:"frames"` // Glob pattern, such as "frames/cam1/*.jpg". Files are replayed in lexical order.
	FPS    int    `json:"fps"`    // Replay rate. Zero means "as fast as possible".
}

// Event is one registration against the event manager
type Event struct {
	Type      string       `json:"type"`      // MovementDetected, PersonAppearedDisappeared, PersonRecognized
	TriggerID int64        `json:"triggerId"` // Caller-assigned subscription id
	Stream    int64        `json:"stream"`
	ROI       geom.Polygon `json:"roi"`    // Empty for the whole frame
	Config    Config       `json:"config"` // Trigger-specific settings
}

// Scenario describes a replay run of triggersim
type Scenario struct {
	Streams     []Stream `json:"streams"`
	Events      []Event  `json:"events"`
	EventLog    string   `json:"eventLog"`    // Optional path to an SQLite event journal
	AnnotateDir string   `json:"annotateDir"` // Optional directory for annotated PNGs of every dispatch
	Listen      string   `json:"listen"`      // Optional HTTP address for the live feed, eg ":8080"
}

// LoadScenario reads and validates a scenario file.
// Relative paths inside the scenario are resolved against the scenario file's directory.
func LoadScenario(filename string) (*Scenario, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	s := &Scenario{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("Invalid scenario %v: %w", filename, err)
	}
	dir := filepath.Dir(filename)
	for i := range s.Streams {
		s.Streams[i].Frames = resolve(dir, s.Streams[i].Frames)
	}
	s.EventLog = resolve(dir, s.EventLog)
	s.AnnotateDir = resolve(dir, s.AnnotateDir)
	for i := range s.Events {
		if p, ok := s.Events[i].Config["model_path"].(string); ok {
			s.Events[i].Config["model_path"] = resolve(dir, p)
		}
	}
	return s, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (s *Scenario) validate() error {
	streams := map[int64]bool{}
	for _, st := range s.Streams {
		if streams[st.ID] {
			return fmt.Errorf("%w: duplicate stream %v", errkind.ErrInvalidParameter, st.ID)
		}
		if st.Frames == "" {
			return fmt.Errorf("%w: stream %v has no frames", errkind.ErrInvalidParameter, st.ID)
		}
		streams[st.ID] = true
	}
	for _, e := range s.Events {
		if !streams[e.Stream] {
			return fmt.Errorf("%w: event %v refers to unknown stream %v", errkind.ErrInvalidParameter, e.TriggerID, e.Stream)
		}
		if len(e.ROI) != 0 && !e.ROI.IsArea() {
			return fmt.Errorf("%w: event %v ROI has %v points", errkind.ErrInvalidParameter, e.TriggerID, len(e.ROI))
		}
	}
	return nil
}
