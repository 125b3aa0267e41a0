package services

import (
	"errors"
	"fmt"
)

// Common errors returned by services.
var (
	// ErrUnavailable indicates the remote endpoint is not reachable.
	ErrUnavailable = errors.New("service unavailable")
	// ErrAuthentication indicates invalid or missing credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrGone indicates the resource was unpublished.
	ErrGone = errors.New("resource unpublished")
	// ErrInvalidProfile indicates a profile the backend cannot use.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrInvalidArgument indicates a malformed request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotImplemented indicates a factory produced no usable service.
	ErrNotImplemented = errors.New("not implemented")
	// ErrClosed indicates the service was closed.
	ErrClosed = errors.New("service closed")
)

// Error wraps errors from service operations with the service and operation
// that produced them.
type Error struct {
	// Service is the registered name of the service.
	Service string
	// Op is the operation that failed (e.g., "Connect", "ListDatasets").
	Op string
	// Err is the underlying error.
	Err error
	// HTTPCode is the HTTP status code, if applicable.
	HTTPCode int
}

// Error returns the error message.
func (e *Error) Error() string {
	base := fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	if e.HTTPCode != 0 {
		base = fmt.Sprintf("%s (HTTP %d)", base, e.HTTPCode)
	}
	return base
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(service, op string, err error) *Error {
	return &Error{Service: service, Op: op, Err: err}
}

// NewErrorWithCode creates a new Error with an HTTP status code.
func NewErrorWithCode(service, op string, err error, httpCode int) *Error {
	return &Error{Service: service, Op: op, Err: err, HTTPCode: httpCode}
}

// IsUnavailable checks if the error indicates a connectivity issue.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotFound checks if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone)
}

// IsAuthentication checks if the error indicates rejected credentials.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// HTTPStatus returns the status code carried by err, or 0.
func HTTPStatus(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.HTTPCode
	}
	return 0
}
