package httpwire

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrOversizedRequest is returned when the accumulated request head grows
	// beyond the configured maximum packet size.
	ErrOversizedRequest = errors.New("request exceeds maximum packet size")

	// ErrMalformedRequestLine is returned when the request line does not
	// consist of exactly a method, a target and a protocol version.
	ErrMalformedRequestLine = errors.New("malformed request line")

	// ErrUnsupportedMethod is returned for methods outside the allow list.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrIncompleteHead is returned when a head is parsed before the header
	// terminator was received.
	ErrIncompleteHead = errors.New("request head is incomplete")
)

// StatusError pairs an error with the HTTP status it is answered with.
type StatusError struct {
	Status int
	Err    error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// WithStatus wraps err in a StatusError.
func WithStatus(status int, err error) error {
	return &StatusError{Status: status, Err: err}
}

// StatusOf returns the status carried by err, or 500 when err carries none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return http.StatusInternalServerError
}
