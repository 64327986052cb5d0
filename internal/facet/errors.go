package facet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateKind is returned when a hook's kind is already staged and
// the hook does not declare overwrite.
var ErrDuplicateKind = errors.New("hook kind already staged")

// ErrBuildInProgress is returned when a composer is mutated mid-build.
var ErrBuildInProgress = errors.New("build in progress")

// UnknownDependencyError is returned when a hook requires a kind that
// is neither staged nor already present.
type UnknownDependencyError struct {
	Kind string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("unknown dependency: %s", e.Kind)
}

// DependencyCycleError is returned when the staged hooks form a cycle.
type DependencyCycleError struct {
	Kinds []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Kinds, " -> "))
}

// ContractViolationError is returned when a facet fails its declared
// contract.
type ContractViolationError struct {
	Contract string
	Detail   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract %s violated: %s", e.Contract, e.Detail)
}
