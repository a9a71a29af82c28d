// Package www contains helpers for our HTTP handlers
package www

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"

	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

// RunProtected runs handler inside a panic handler that recognizes HTTPError,
// and sends the appropriate HTTP response if a panic does occur.
func RunProtected(log logs.Log, w http.ResponseWriter, r *http.Request, handler func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		switch err := rec.(type) {
		case HTTPError:
			log.Infof("Failed request %v: %v %v", r.URL.Path, err.Code, err.Message)
			SendError(w, err.Message, err.Code)
		case runtime.Error:
			log.Errorf("Runtime panic error %v: %v", r.URL.Path, err)
			log.Errorf("Stack Trace: %v", string(debug.Stack()))
			SendError(w, err.Error(), http.StatusInternalServerError)
		case error:
			log.Errorf("Panic error %v: %v", r.URL.Path, err)
			SendError(w, err.Error(), http.StatusInternalServerError)
		default:
			log.Errorf("Unrecognized panic %v: %v", r.URL.Path, rec)
			SendError(w, "Unrecognized panic", http.StatusInternalServerError)
		}
	}()

	handler()
}

// Handle adds a route that runs inside RunProtected
func Handle(log logs.Log, router *httprouter.Router, method, path string, handle httprouter.Handle) {
	wrapper := func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		RunProtected(log, w, r, func() { handle(w, r, p) })
	}
	router.Handle(method, path, wrapper)
}

// QueryInt returns the named query value as an int.
// If the value is missing, returns def. If it is not an integer, panics with a 400.
func QueryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		PanicBadRequestf("%v must be an integer", key)
	}
	return v
}

// ParamInt64 returns the named route parameter as an int64, or panics with a 400
func ParamInt64(p httprouter.Params, key string) int64 {
	v, err := strconv.ParseInt(p.ByName(key), 10, 64)
	if err != nil {
		PanicBadRequestf("%v must be an integer", key)
	}
	return v
}

// SendError is identical to http.Error(), except that we don't append a \n to the message body
func SendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write([]byte(message))
}

// SendJSON encodes obj to JSON, and sends it as an application/json response
func SendJSON(w http.ResponseWriter, obj any) {
	b, err := json.Marshal(obj)
	Check(err)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
