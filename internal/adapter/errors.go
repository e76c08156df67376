package adapter

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectionError reports a transport failure talking to the upstream.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from the upstream.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Code, e.Body)
}

// ParseError reports a malformed stream frame. It is never terminal.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream chunk: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a per-chunk parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// StatusCode maps an inference error to the code surfaced to clients.
// Transport failures map to 502.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return http.StatusBadGateway
}
