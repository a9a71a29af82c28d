//go:build opencv

package main

import (
	"github.com/cyclopcam/eventtrigger/pkg/vision"
	"github.com/cyclopcam/eventtrigger/pkg/vision/cv"
)

const haveOpenCV = true

func newToolkit(faceCascade string) vision.Toolkit {
	return &cv.Toolkit{FaceCascadePath: faceCascade}
}
