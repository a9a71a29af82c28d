package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/geom"
	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	c := Config{}
	require.NoError(t, json.Unmarshal([]byte(`{"sensitivity": 20, "ratio": 1.5, "model_path": "m.xml", "verbose": true}`), &c))

	v, err := c.GetInt("sensitivity")
	require.NoError(t, err)
	require.Equal(t, 20, v)

	_, err = c.GetInt("ratio")
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))

	f, err := c.GetFloat("ratio")
	require.NoError(t, err)
	require.Equal(t, 1.5, f)

	s, err := c.GetString("model_path")
	require.NoError(t, err)
	require.Equal(t, "m.xml", s)

	b, err := c.GetBool("verbose")
	require.NoError(t, err)
	require.True(t, b)

	_, err = c.GetString("missing")
	require.True(t, errors.Is(err, errkind.ErrKeyNotAvailable))
	_, err = c.GetBool("sensitivity")
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
}

func TestDefaults(t *testing.T) {
	var c Config
	v, err := c.IntOr("skip_frames", 6)
	require.NoError(t, err)
	require.Equal(t, 6, v)

	c = Config{"sensitivity": 300}
	_, err = c.IntInRange("sensitivity", 10, 0, 255)
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))

	c = Config{"sensitivity": "high"}
	_, err = c.IntOr("sensitivity", 10)
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "scenario.json")
	require.NoError(t, os.WriteFile(fn, []byte(`{
		"streams": [{"id": 1, "frames": "cam1/*.jpg", "fps": 5}],
		"events": [
			{"type": "MovementDetected", "triggerId": 10, "stream": 1, "roi": [{"x":0,"y":0},{"x":100,"y":0},{"x":100,"y":100}], "config": {"sensitivity": 15}},
			{"type": "PersonRecognized", "triggerId": 11, "stream": 1, "config": {"model_path": "faces.yml"}}
		],
		"eventLog": "events.sqlite"
	}`), 0644))

	s, err := LoadScenario(fn)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "cam1/*.jpg"), s.Streams[0].Frames)
	require.Equal(t, filepath.Join(dir, "events.sqlite"), s.EventLog)
	require.Equal(t, "", s.AnnotateDir)
	require.Equal(t, geom.Point{X: 100, Y: 100}, s.Events[0].ROI[2])
	require.Equal(t, filepath.Join(dir, "faces.yml"), s.Events[1].Config["model_path"])

	require.NoError(t, os.WriteFile(fn, []byte(`{"streams": [{"id": 1, "frames": "x"}], "events": [{"type": "MovementDetected", "stream": 2}]}`), 0644))
	_, err = LoadScenario(fn)
	require.True(t, errors.Is(err, errkind.ErrInvalidParameter))

	_, err = LoadScenario(filepath.Join(dir, "nope.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
