package request

import (
	"errors"
	"fmt"
)

// ErrDisposed rejects futures still pending when a coordinator is
// disposed.
var ErrDisposed = errors.New("coordinator disposed")

// TimedOutError is returned when a one-shot request's local timer
// fires before a reply arrives.
type TimedOutError struct {
	Millis int64
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("request timed out after %dms", e.Millis)
}

// SendFailedError wraps a dispatch failure from the underlying bus.
type SendFailedError struct {
	Cause error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Cause)
}

func (e *SendFailedError) Unwrap() error { return e.Cause }

// RouteRegistrationFailedError wraps a failure to install the
// temporary reply route.
type RouteRegistrationFailedError struct {
	Cause error
}

func (e *RouteRegistrationFailedError) Error() string {
	return fmt.Sprintf("route registration failed: %v", e.Cause)
}

func (e *RouteRegistrationFailedError) Unwrap() error { return e.Cause }
