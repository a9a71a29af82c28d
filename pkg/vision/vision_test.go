package vision

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/stretchr/testify/require"
)

func TestCheckModelFile(t *testing.T) {
	dir := t.TempDir()
	require.True(t, errors.Is(CheckModelFile(""), errkind.ErrInvalidPath))
	require.True(t, errors.Is(CheckModelFile(filepath.Join(dir, "missing.yml")), errkind.ErrInvalidPath))
	require.True(t, errors.Is(CheckModelFile(dir), errkind.ErrInvalidPath))

	fn := filepath.Join(dir, "model.yml")
	require.NoError(t, os.WriteFile(fn, []byte("x"), 0644))
	require.NoError(t, CheckModelFile(fn))

	if os.Getuid() != 0 {
		require.NoError(t, os.Chmod(fn, 0))
		require.True(t, errors.Is(CheckModelFile(fn), errkind.ErrPermissionDenied))
	}
}

func TestUnavailable(t *testing.T) {
	var tk Toolkit = Unavailable{}
	_, err := tk.NewPersonDetector()
	require.True(t, errors.Is(err, errkind.ErrInvalidOperation))
	_, err = tk.LoadRecognizer("/no/such/model")
	require.True(t, errors.Is(err, errkind.ErrInvalidPath))
}
