package api

import (
	"errors"
	"fmt"
)

// ErrAuthExpired is returned when a call still fails authorisation after the
// single refresh-and-retry cycle, or when the refresh itself was rejected.
// The session must be re-established by the user.
var ErrAuthExpired = errors.New("authorisation expired")

// NetworkError wraps a transport-level failure: the request produced no
// response at all. It never implies the session has expired.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is any non-2xx, non-retried response. Body carries the raw
// response detail; Message carries the server's {message} field when present.
type ServerError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error %d", e.StatusCode)
}
