//go:build !opencv

package main

import "github.com/cyclopcam/eventtrigger/pkg/vision"

const haveOpenCV = false

// Without OpenCV, only MovementDetected can be registered
func newToolkit(faceCascade string) vision.Toolkit {
	return vision.Unavailable{}
}
