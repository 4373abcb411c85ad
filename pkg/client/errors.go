package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrInvalidConfig is returned by New when the configuration is unusable.
	ErrInvalidConfig = errors.New("invalid client config")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassTransport represents connection, timeout and body read failures.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassStatus represents non-2xx HTTP responses.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassDecode represents bodies that do not match the product schema.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassInvalid represents identifiers rejected before any request is sent.
	ErrorClassInvalid ErrorClass = "invalid"
)

// FetchError is the single failure type returned by FetchProduct.
// Its Error string is the human-readable reason recorded by callers.
type FetchError struct {
	ID         int
	Class      ErrorClass
	StatusCode int
	Reason     string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch product %d: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch product %d: %s", e.ID, e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the failure was an HTTP 404.
func (e *FetchError) IsNotFound() bool {
	return e.Class == ErrorClassStatus && e.StatusCode == 404
}

// ClassOf returns the error class of err, or "" if err is not a *FetchError.
func ClassOf(err error) ErrorClass {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Class
	}
	return ""
}
