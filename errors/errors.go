package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Special wrapper for errors that should never be retried by the job queue
// or the download engine's retry policy.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// IsUnretriable returns whether the given error is an unretriable error.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	// every not found is unretriable
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

// SchemaValidationError collects gojsonschema result errors for a DAG
// template / job config body, the same validation shape an HTTP
// body-schema check would use but without the HTTP coupling (no REST
// API in this core).
type SchemaValidationError struct {
	Where  string
	Errors []gojsonschema.ResultError
}

func (e *SchemaValidationError) Error() string {
	sb := strings.Builder{}
	sb.WriteString("schema validation error in ")
	sb.WriteString(e.Where)
	sb.WriteString(": ")
	for i, resErr := range e.Errors {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(resErr.String())
	}
	return sb.String()
}

func NewSchemaValidationError(where string, result []gojsonschema.ResultError) error {
	return Unretriable(&SchemaValidationError{Where: where, Errors: result})
}

// Sentinel error kinds shared across the core.
var (
	// ErrConfiguration is returned by the config resolver on a missing or
	// invalid merged config; actors log it and keep their previous config.
	ErrConfiguration = errors.New("configuration error")
	// ErrCircuitOpen is returned when an engine call is fast-failed
	// because its circuit breaker is Open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrFatalPlatform wraps the six fatal extractor outcomes (NotFound,
	// Banned, AgeRestricted, RegionLocked, Private, UnsupportedPlatform).
	ErrFatalPlatform = errors.New("fatal platform error")
	// ErrDisabled is returned when an actor is asked to act on a streamer
	// whose disabled_until is still in the future.
	ErrDisabled = errors.New("streamer is disabled")
	// ErrResolveInvalidated signals an in-flight config resolution was
	// invalidated; callers must retry once.
	ErrResolveInvalidated = errors.New("config cache entry invalidated during resolution")
)
