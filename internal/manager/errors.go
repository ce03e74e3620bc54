package manager

import (
	"errors"
	"net/http"
)

// Sentinel pipeline errors. Each carries an HTTP status via StatusCode.
var (
	ErrModelsUnavailable    = statusError{msg: "required models unavailable", code: http.StatusServiceUnavailable}
	ErrClassificationFailed = statusError{msg: "classification failed", code: http.StatusServiceUnavailable}
	ErrInvalidPathology     = statusError{msg: "invalid pathology", code: http.StatusBadRequest}
	ErrTimeout              = statusError{msg: "processing timed out", code: http.StatusGatewayTimeout}
)

type statusError struct {
	msg  string
	code int
}

func (e statusError) Error() string   { return e.msg }
func (e statusError) StatusCode() int { return e.code }

// ProcessingError wraps an unexpected failure inside a pipeline stage. The
// message exposed to clients is generic; Cause is for logs.
type ProcessingError struct {
	Stage string
	Cause error
}

func (e *ProcessingError) Error() string   { return "processing failed" }
func (e *ProcessingError) Unwrap() error   { return e.Cause }
func (e *ProcessingError) StatusCode() int { return http.StatusInternalServerError }

// Detail includes the stage and cause for logging.
func (e *ProcessingError) Detail() string {
	if e.Cause == nil {
		return e.Stage
	}
	return e.Stage + ": " + e.Cause.Error()
}

// IsProcessingError reports whether err wraps a ProcessingError.
func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string   { return "too busy: " + e.reason }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so callers can report 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string   { return e.msg }
func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// ErrEmptyText is returned when nothing is left after cleaning the input.
var ErrEmptyText = statusError{msg: "text is empty after cleaning", code: http.StatusBadRequest}
