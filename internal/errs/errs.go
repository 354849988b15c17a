// Package errs defines the error taxonomy shared by the pipeline server
// components. Each kind is a small struct type with a matching IsXxx
// predicate; every kind also carries the HTTP status the REST layer maps it to.
package errs

import (
	"errors"
	"net/http"
	"strconv"
)

// notFoundError signals an unknown pipeline, version, model, instance or stream key.
type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string   { return e.kind + " not found: " + e.id }
func (e notFoundError) StatusCode() int { return http.StatusNotFound }

// NotFound constructs a not-found error for an entity kind (e.g. "pipeline").
func NotFound(kind, id string) error { return notFoundError{kind: kind, id: id} }

// IsNotFound reports whether err (or anything it wraps) is a not-found error.
func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// conflictError signals a duplicate stream key or an instance already running.
type conflictError struct{ msg string }

func (e conflictError) Error() string   { return e.msg }
func (e conflictError) StatusCode() int { return http.StatusConflict }

func Conflict(msg string) error { return conflictError{msg: msg} }

func IsConflict(err error) bool {
	var e conflictError
	return errors.As(err, &e)
}

// capacityError signals that the running-instance bound is reached.
type capacityError struct{ max int }

func (e capacityError) Error() string {
	return "maximum running pipelines reached (" + strconv.Itoa(e.max) + ")"
}
func (e capacityError) StatusCode() int { return http.StatusTooManyRequests }

func Capacity(max int) error { return capacityError{max: max} }

func IsCapacity(err error) bool {
	var e capacityError
	return errors.As(err, &e)
}

// configurationError signals a malformed definition or template, or a missing parameter.
type configurationError struct{ msg string }

func (e configurationError) Error() string   { return "configuration error: " + e.msg }
func (e configurationError) StatusCode() int { return http.StatusBadRequest }

func Configuration(msg string) error { return configurationError{msg: msg} }

func IsConfiguration(err error) bool {
	var e configurationError
	return errors.As(err, &e)
}

// engineError signals that the media execution engine failed to build, start
// or stop a session. Unavailable marks a missing engine runtime (503).
type engineError struct {
	msg         string
	unavailable bool
	cause       error
}

func (e engineError) Error() string {
	if e.cause != nil {
		return "engine error: " + e.msg + ": " + e.cause.Error()
	}
	return "engine error: " + e.msg
}

func (e engineError) Unwrap() error { return e.cause }

func (e engineError) StatusCode() int {
	if e.unavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Engine wraps an engine failure. cause may be nil.
func Engine(msg string, cause error) error { return engineError{msg: msg, cause: cause} }

// EngineUnavailable reports that no usable engine runtime is present.
func EngineUnavailable(msg string) error { return engineError{msg: msg, unavailable: true} }

func IsEngine(err error) bool {
	var e engineError
	return errors.As(err, &e)
}

// timeoutError signals that a caller-supplied bound elapsed.
type timeoutError struct{ op string }

func (e timeoutError) Error() string   { return "timeout: " + e.op }
func (e timeoutError) StatusCode() int { return http.StatusGatewayTimeout }

func Timeout(op string) error { return timeoutError{op: op} }

func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

// ambiguousArtifactError signals more than one file matching a single-candidate convention.
type ambiguousArtifactError struct {
	dir     string
	pattern string
	matches []string
}

func (e ambiguousArtifactError) Error() string {
	return "ambiguous artifact: " + strconv.Itoa(len(e.matches)) + " files match " + e.pattern + " in " + e.dir
}
func (e ambiguousArtifactError) StatusCode() int { return http.StatusUnprocessableEntity }

func AmbiguousArtifact(dir, pattern string, matches []string) error {
	return ambiguousArtifactError{dir: dir, pattern: pattern, matches: append([]string(nil), matches...)}
}

func IsAmbiguousArtifact(err error) bool {
	var e ambiguousArtifactError
	return errors.As(err, &e)
}

// ErrServerStopped is returned by control operations after shutdown.
var ErrServerStopped = stoppedError{}

type stoppedError struct{}

func (stoppedError) Error() string   { return "Pipeline Server Stopped" }
func (stoppedError) StatusCode() int { return http.StatusServiceUnavailable }

func IsStopped(err error) bool { return errors.Is(err, ErrServerStopped) }
