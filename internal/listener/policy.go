package listener

import "fmt"

// Policy decides how a new registration joins the existing entries on
// a path. Place returns the next entry list; it must not mutate the
// stored triples themselves.
type Policy interface {
	// Name identifies the policy in configuration.
	Name() string
	// Place positions e among existing, or rejects it.
	Place(existing []Entry, e Entry) ([]Entry, error)
}

type policyFunc struct {
	name string
	fn   func(existing []Entry, e Entry) ([]Entry, error)
}

func (p policyFunc) Name() string { return p.name }
func (p policyFunc) Place(existing []Entry, e Entry) ([]Entry, error) {
	return p.fn(existing, e)
}

// PolicyMultiple appends without restriction.
func PolicyMultiple() Policy {
	return policyFunc{name: "multiple", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		return append(existing, e), nil
	}}
}

// PolicySingle permits at most one listener per path.
func PolicySingle() Policy {
	return policyFunc{name: "single", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		if len(existing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrListenerExists, e.Path)
		}
		return []Entry{e}, nil
	}}
}

// PolicyReplace keeps only the newest listener per path.
func PolicyReplace() Policy {
	return policyFunc{name: "replace", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		return []Entry{e}, nil
	}}
}

// PolicyAppend appends, like multiple; named separately so hosts can
// state intent in configuration.
func PolicyAppend() Policy {
	return policyFunc{name: "append", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		return append(existing, e), nil
	}}
}

// PolicyPrepend inserts new listeners at the front.
func PolicyPrepend() Policy {
	return policyFunc{name: "prepend", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		return append([]Entry{e}, existing...), nil
	}}
}

// PolicyPriority orders listeners by descending priority. Entries with
// equal priority keep registration order; removal never reorders
// across priority buckets.
func PolicyPriority(defaultPriority int) Policy {
	return policyFunc{name: "priority", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		if e.Priority == 0 {
			e.Priority = defaultPriority
		}
		pos := len(existing)
		for i, cur := range existing {
			if e.Priority > cur.Priority {
				pos = i
				break
			}
		}
		next := make([]Entry, 0, len(existing)+1)
		next = append(next, existing[:pos]...)
		next = append(next, e)
		next = append(next, existing[pos:]...)
		return next, nil
	}}
}

// PolicyLimited appends up to max listeners per path.
func PolicyLimited(max int) Policy {
	return policyFunc{name: "limited", fn: func(existing []Entry, e Entry) ([]Entry, error) {
		if len(existing) >= max {
			return nil, fmt.Errorf("%w: %s (max %d)", ErrListenerLimit, e.Path, max)
		}
		return append(existing, e), nil
	}}
}

// PolicyCustom wraps a host-supplied placement function.
func PolicyCustom(name string, fn func(existing []Entry, e Entry) ([]Entry, error)) Policy {
	return policyFunc{name: name, fn: fn}
}

// PolicyByName resolves a configuration string to a policy. The
// priority and limited variants take their option values from the
// arguments; unknown names return false.
func PolicyByName(name string, defaultPriority, limit int) (Policy, bool) {
	switch name {
	case "multiple", "":
		return PolicyMultiple(), true
	case "single":
		return PolicySingle(), true
	case "replace":
		return PolicyReplace(), true
	case "append":
		return PolicyAppend(), true
	case "prepend":
		return PolicyPrepend(), true
	case "priority":
		return PolicyPriority(defaultPriority), true
	case "limited":
		return PolicyLimited(limit), true
	}
	return nil, false
}
