// Package errkind holds the error taxonomy shared by the trigger engine.
// Every error returned by the engine wraps exactly one of these, so callers
// classify failures with errors.Is.
package errkind

import "errors"

var (
	ErrInvalidParameter   = errors.New("invalid parameter")   // null/malformed arguments, unknown event type, malformed ROI
	ErrInvalidOperation   = errors.New("invalid operation")   // eg pushing to a stream with no triggers
	ErrInvalidPath        = errors.New("invalid path")        // model file does not exist
	ErrPermissionDenied   = errors.New("permission denied")   // model file not readable
	ErrOutOfMemory        = errors.New("out of memory")       // frame buffer too large
	ErrKeyNotAvailable    = errors.New("key not available")   // unsupported configuration attribute
	ErrNotSupportedFormat = errors.New("unsupported format")  // unrecognized colorspace
	ErrInternal           = errors.New("internal error")      // invariant violation
)
