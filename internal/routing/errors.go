package routing

import (
	"errors"
	"fmt"
)

// ErrRouteNotFound is returned when no registered pattern matches a path.
var ErrRouteNotFound = errors.New("route not found")

// ErrDuplicateRoute is returned when a pattern is registered twice.
var ErrDuplicateRoute = errors.New("duplicate route")

// NotFound wraps ErrRouteNotFound with the unmatched path.
func NotFound(path string) error {
	return fmt.Errorf("%w: %s", ErrRouteNotFound, path)
}

// Duplicate wraps ErrDuplicateRoute with the offending pattern.
func Duplicate(pattern string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateRoute, pattern)
}
