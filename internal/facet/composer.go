package facet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
)

// frame records the kinds added within one composer transaction.
type frame struct {
	added []string
}

// Composer stages hooks for a subsystem and builds them into facets.
// Builds are atomic: any failure disposes and removes everything the
// failing transaction added, then surfaces the original error.
// Transactions nest; an inner commit survives an outer rollback.
type Composer struct {
	mu       sync.Mutex
	owner    Owner
	staged   []*Hook
	byKind   map[string]int // kind -> index into staged
	facets   map[string]*Facet
	attached map[string]bool
	order    []string // overall addition order, for disposal
	frames   []*frame
	building bool

	contracts *ContractRegistry
}

// NewComposer creates a composer for owner. A nil contracts registry
// disables contract enforcement lookups (declared contracts then fail).
func NewComposer(owner Owner, contracts *ContractRegistry) *Composer {
	return &Composer{
		owner:     owner,
		byKind:    make(map[string]int),
		facets:    make(map[string]*Facet),
		attached:  make(map[string]bool),
		contracts: contracts,
	}
}

// Use stages a hook. Staging a kind twice fails unless the new hook
// declares Overwrite, which replaces the original in its staging slot.
// Use is rejected while a build is running.
func (c *Composer) Use(h *Hook) error {
	if h == nil || h.Kind == "" {
		return fmt.Errorf("hook requires a kind")
	}
	if h.Fn == nil {
		return fmt.Errorf("hook %s requires a factory fn", h.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.building {
		return ErrBuildInProgress
	}

	if idx, exists := c.byKind[h.Kind]; exists {
		if !h.Overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, h.Kind)
		}
		c.staged[idx] = h
		return nil
	}
	c.byKind[h.Kind] = len(c.staged)
	c.staged = append(c.staged, h)
	return nil
}

// Build resolves the staged hooks into an ordered plan and runs it
// inside one transaction. On any error the transaction's additions are
// disposed in reverse order (best-effort) and removed, and the original
// error propagates. Build blocks further Use calls until it finishes.
func (c *Composer) Build(ctx context.Context) error {
	c.mu.Lock()
	if c.building {
		c.mu.Unlock()
		return ErrBuildInProgress
	}
	c.building = true
	plan, err := c.resolveOrder()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.building = false
		c.mu.Unlock()
	}()

	if err != nil {
		return err
	}

	c.Begin()
	for _, h := range plan {
		if err := c.runHook(ctx, h); err != nil {
			c.Rollback()
			return err
		}
	}
	c.Commit()
	return nil
}

// resolveOrder topologically sorts the staged hooks by their Required
// kinds. Ties break by staging order, so the plan is stable across
// runs. Dependencies already present as facets are considered
// satisfied. Callers hold c.mu.
func (c *Composer) resolveOrder() ([]*Hook, error) {
	indegree := make(map[string]int, len(c.staged))
	dependents := make(map[string][]string)

	for _, h := range c.staged {
		indegree[h.Kind] += 0
		for _, req := range h.Required {
			if _, staged := c.byKind[req]; staged {
				indegree[h.Kind]++
				dependents[req] = append(dependents[req], h.Kind)
				continue
			}
			if _, built := c.facets[req]; built {
				continue
			}
			return nil, &UnknownDependencyError{Kind: req}
		}
	}

	var plan []*Hook
	done := make(map[string]bool, len(c.staged))
	for len(plan) < len(c.staged) {
		progressed := false
		for _, h := range c.staged { // staging order keeps ties stable
			if done[h.Kind] || indegree[h.Kind] != 0 {
				continue
			}
			done[h.Kind] = true
			plan = append(plan, h)
			for _, dep := range dependents[h.Kind] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			var cycle []string
			for _, h := range c.staged {
				if !done[h.Kind] {
					cycle = append(cycle, h.Kind)
				}
			}
			return nil, &DependencyCycleError{Kinds: cycle}
		}
	}
	return plan, nil
}

// runHook invokes one hook and carries its facet through registration,
// init, contract enforcement, and attachment.
func (c *Composer) runHook(ctx context.Context, h *Hook) error {
	f, err := h.Fn(ctx, c, c.owner)
	if err != nil {
		return fmt.Errorf("hook %s: %w", h.Kind, err)
	}
	if f == nil {
		return fmt.Errorf("hook %s returned no facet", h.Kind)
	}
	if f.Kind == "" {
		f.Kind = h.Kind
	}
	if f.Contract == "" {
		f.Contract = h.Contract
	}
	if f.Source == "" {
		f.Source = h.Source
	}
	f.Attach = f.Attach || h.Attach

	c.register(f)

	if f.Init != nil {
		if err := f.Init(ctx); err != nil {
			return fmt.Errorf("init %s: %w", f.Kind, err)
		}
	}
	if f.Contract != "" {
		if c.contracts == nil {
			return &ContractViolationError{Contract: f.Contract, Detail: "no contract registry"}
		}
		if err := c.contracts.Enforce(f.Contract, f); err != nil {
			return err
		}
	}
	if f.Attach {
		c.mu.Lock()
		c.attached[f.Kind] = true
		c.mu.Unlock()
	}
	return nil
}

// register adds a facet under its kind, recording it against the
// innermost transaction frame.
func (c *Composer) register(f *Facet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facets[f.Kind] = f
	c.order = append(c.order, f.Kind)
	if n := len(c.frames); n > 0 {
		fr := c.frames[n-1]
		fr.added = append(fr.added, f.Kind)
	}
}

// Begin opens a transaction frame.
func (c *Composer) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, &frame{})
}

// Commit pops the innermost frame, keeping its additions. Committed
// additions are not revisited by an outer rollback.
func (c *Composer) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.frames); n > 0 {
		c.frames = c.frames[:n-1]
	}
}

// Rollback disposes and removes the innermost frame's additions in
// reverse order. Dispose errors are logged and swallowed.
func (c *Composer) Rollback() {
	c.mu.Lock()
	if len(c.frames) == 0 {
		c.mu.Unlock()
		return
	}
	fr := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	added := fr.added
	c.mu.Unlock()

	for i := len(added) - 1; i >= 0; i-- {
		kind := added[i]
		c.mu.Lock()
		f, exists := c.facets[kind]
		delete(c.facets, kind)
		delete(c.attached, kind)
		c.removeFromOrder(kind)
		c.mu.Unlock()
		if !exists {
			continue
		}
		if f.Dispose != nil {
			if err := f.Dispose(); err != nil {
				log.Warn(log.CatFacet, "dispose during rollback failed", "kind", kind, "error", err)
			}
		}
	}
}

// removeFromOrder drops the last occurrence of kind. Callers hold c.mu.
func (c *Composer) removeFromOrder(kind string) {
	for i := len(c.order) - 1; i >= 0; i-- {
		if c.order[i] == kind {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Find returns the facet registered under kind, attached or not.
func (c *Composer) Find(kind string) (*Facet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, exists := c.facets[kind]
	return f, exists
}

// Attached returns the kinds publicly attached to the subsystem.
func (c *Composer) Attached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.attached))
	for _, kind := range c.order {
		if c.attached[kind] {
			out = append(out, kind)
		}
	}
	return out
}

// Dispose releases every facet in reverse addition order. Errors are
// collected and returned as one aggregate; disposal always proceeds.
func (c *Composer) Dispose() error {
	c.mu.Lock()
	order := make([]string, len(c.order))
	copy(order, c.order)
	facets := c.facets
	c.facets = make(map[string]*Facet)
	c.attached = make(map[string]bool)
	c.order = nil
	c.frames = nil
	c.staged = nil
	c.byKind = make(map[string]int)
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		f := facets[order[i]]
		if f == nil || f.Dispose == nil {
			continue
		}
		if err := f.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose %s: %w", f.Kind, err))
		}
	}
	return errors.Join(errs...)
}
