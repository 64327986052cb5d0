package identity

import (
	"errors"
	"fmt"
)

// ErrUnknownPrincipal is returned when a lookup misses the registry.
var ErrUnknownPrincipal = errors.New("unknown principal")

// ErrExpiredPKR is returned when a PKR has passed its expiry.
var ErrExpiredPKR = errors.New("pkr expired")

// ErrKernelExists is returned when a second kernel principal is minted.
var ErrKernelExists = errors.New("kernel principal already exists")

// PermissionDeniedError is returned when a caller lacks the access
// level a route or mutation requires.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// PermissionDenied builds a PermissionDeniedError with the given reason.
func PermissionDenied(reason string) error {
	return &PermissionDeniedError{Reason: reason}
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool {
	var pd *PermissionDeniedError
	return errors.As(err, &pd)
}
