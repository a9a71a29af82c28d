package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/eventtrigger/pkg/errkind"
	"github.com/cyclopcam/eventtrigger/pkg/frame"
	"github.com/fogleman/gg"
)

// listFrames returns the files matching pattern, in lexical order
func listFrames(pattern string) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad frame pattern '%v': %v", errkind.ErrInvalidParameter, pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no frames match '%v'", errkind.ErrInvalidPath, pattern)
	}
	sort.Strings(files)
	return files, nil
}

// loadFrame decodes a JPEG with cimg, or a PNG with the standard decoder
func loadFrame(filename string) (frame.Source, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		img, err := cimg.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Failed to read %v: %w", filename, err)
		}
		return frame.FromCImage(img), nil
	case ".png":
		img, err := gg.LoadPNG(filename)
		if err != nil {
			return nil, fmt.Errorf("Failed to read %v: %w", filename, err)
		}
		return frame.FromImage(img), nil
	}
	return nil, fmt.Errorf("%w: unrecognized image file '%v'", errkind.ErrNotSupportedFormat, filename)
}
