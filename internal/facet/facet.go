// Package facet implements subsystem composition: hooks are staged on
// a composer, topologically ordered by their declared dependencies,
// instantiated into facets, initialized, contract-checked, and attached
// atomically with rollback on failure.
package facet

import "context"

// Owner is the subsystem a composer builds facets for. It is a lookup
// back-reference only; ownership runs from the subsystem down.
type Owner interface {
	// Name returns the subsystem name.
	Name() string
}

// Facet is a named capability bundle produced by a hook. Once its init
// callback has run it is effectively frozen; nothing may be added.
type Facet struct {
	// Kind names the capability; one facet per kind per subsystem.
	Kind string
	// Value is the capability handle exposed through Find.
	Value any
	// Attach controls whether the facet is publicly attached to the
	// subsystem, or kept composer-local.
	Attach bool
	// Required lists the kinds this facet depends on.
	Required []string
	// Contract optionally names a registered contract enforced before
	// attach.
	Contract string
	// Source records where the facet came from, for diagnostics.
	Source string

	// Init runs after the facet is registered, in dependency order.
	Init func(ctx context.Context) error
	// Dispose releases the facet; best-effort, reverse order.
	Dispose func() error
}

// Hook is a factory producing a facet at build time.
type Hook struct {
	// Kind names the facet this hook produces.
	Kind string
	// Required lists kinds that must be built (or already present)
	// before this hook runs.
	Required []string
	// Overwrite permits restaging an already-staged kind.
	Overwrite bool
	// Attach marks the produced facet for public attachment.
	Attach bool
	// Contract optionally names the contract the facet must satisfy.
	Contract string
	// Source records where the hook came from, for diagnostics.
	Source string
	// Fn produces the facet. A nil returned facet is a build error.
	Fn func(ctx context.Context, c *Composer, owner Owner) (*Facet, error)
}
