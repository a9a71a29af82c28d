package www

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cyclopcam/eventtrigger/pkg/errkind"
)

// HTTPError can be panic'ed inside a handler that runs under RunProtected,
// which sends the appropriate HTTP response.
type HTTPError struct {
	Code    int
	Message string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%v %v", e.Code, e.Message)
}

// PanicBadRequestf panics with a 400 Bad Request
func PanicBadRequestf(format string, args ...any) {
	panic(HTTPError{http.StatusBadRequest, fmt.Sprintf(format, args...)})
}

func PanicNotFound() {
	panic(HTTPError{http.StatusNotFound, "Not Found"})
}

// Check panics if err is not nil.
// Errors that were caused by the caller's input become 400 or 404 responses.
func Check(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, errkind.ErrInvalidParameter), errors.Is(err, errkind.ErrNotSupportedFormat):
		panic(HTTPError{http.StatusBadRequest, err.Error()})
	case errors.Is(err, errkind.ErrKeyNotAvailable):
		panic(HTTPError{http.StatusNotFound, err.Error()})
	}
	panic(err)
}
