// Package routing implements the per-subsystem route table: pattern
// registration, longest-pattern-wins matching with an LRU match cache,
// and permission wrapping of matched handlers.
package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

// Handler processes a routed message. Options arrive frozen; captured
// pattern parameters are available via ParamsFrom.
type Handler func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error)

// Metadata describes a route beyond its handler.
type Metadata struct {
	// Required names the access level a caller must hold on the
	// owning subsystem: "read", "write", or "grant". Empty means
	// unguarded.
	Required string
	// Scope, when set alongside Required, additionally requires the
	// caller's security profile to grant this scope.
	Scope string
	// Description is free-form route documentation.
	Description string
	// Priority is advisory ordering metadata for hosts that list routes.
	Priority int
}

// RouteEntry is one registered pattern.
type RouteEntry struct {
	Pattern  string
	Handler  Handler
	Metadata Metadata

	matcher *matcher
	seq     int
}

// Guard supplies the identity context used to wrap guarded routes.
type Guard struct {
	// Owner returns the owning subsystem's current PKR.
	Owner func() identity.PKR
	// IsKernel recognizes the kernel's PKR.
	IsKernel func(identity.PKR) bool
	// Permissions answers level queries on the owner's RWS.
	Permissions *identity.ReaderWriterSet
	// Profiles is the optional scope layer; nil disables scope checks.
	Profiles *identity.ProfileRegistry
}

// Config configures a Router.
type Config struct {
	// CacheCapacity bounds the LRU match cache. Minimum 1.
	CacheCapacity int
	// Debug enables match logging.
	Debug bool
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{CacheCapacity: 256}
}

// Router owns a route table and its match cache. All methods are safe
// for concurrent use; the cache is invalidated synchronously on any
// registration change.
type Router struct {
	mu      sync.RWMutex
	entries []*RouteEntry
	byPat   map[string]*RouteEntry
	cache   *matchCache
	nextSeq int
	debug   bool
	guard   *Guard
}

// NewRouter creates a router. A nil config uses defaults.
func NewRouter(config *Config) *Router {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
		if cfg.CacheCapacity < 1 {
			cfg.CacheCapacity = DefaultConfig().CacheCapacity
		}
	}
	return &Router{
		byPat: make(map[string]*RouteEntry),
		cache: newMatchCache(cfg.CacheCapacity),
		debug: cfg.Debug,
	}
}

// SetGuard installs the identity context for permission-wrapped routes.
func (r *Router) SetGuard(g *Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = g
}

// Register adds a pattern with its handler and metadata. Registering a
// pattern twice fails; the whole match cache is invalidated.
func (r *Router) Register(pattern string, handler Handler, meta Metadata) error {
	if handler == nil {
		return fmt.Errorf("registering %q: nil handler", pattern)
	}
	m, err := compilePattern(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPat[pattern]; exists {
		return Duplicate(pattern)
	}

	entry := &RouteEntry{
		Pattern:  pattern,
		Handler:  handler,
		Metadata: meta,
		matcher:  m,
		seq:      r.nextSeq,
	}
	r.nextSeq++
	r.entries = append(r.entries, entry)
	r.byPat[pattern] = entry
	r.cache.clear()

	if r.debug {
		log.Debug(log.CatRouter, "route registered", "pattern", pattern)
	}
	return nil
}

// Unregister removes a pattern. Removing an absent pattern is an error;
// the match cache is invalidated on success.
func (r *Router) Unregister(pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byPat[pattern]
	if !exists {
		return NotFound(pattern)
	}
	delete(r.byPat, pattern)
	for i, e := range r.entries {
		if e == entry {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	r.cache.clear()
	return nil
}

// Has reports whether the exact pattern is registered.
func (r *Router) Has(pattern string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.byPat[pattern]
	return exists
}

// Entries returns the registered entries in registration order.
func (r *Router) Entries() []*RouteEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RouteEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Match resolves a path to its route entry and captured parameters.
// Selection is longest-pattern-wins; equal lengths fall back to
// registration order. Results are LRU-cached per path.
func (r *Router) Match(path string) (*RouteEntry, map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hit, exists := r.cache.get(path); exists {
		return hit.entry, hit.params, nil
	}

	var best *RouteEntry
	var bestParams map[string]string
	for _, entry := range r.entries {
		params, matched := entry.matcher.match(path)
		if !matched {
			continue
		}
		if best == nil || len(entry.Pattern) > len(best.Pattern) {
			best = entry
			bestParams = params
		}
	}
	if best == nil {
		return nil, nil, NotFound(path)
	}

	r.cache.put(&cachedMatch{path: path, entry: best, params: bestParams})
	if r.debug {
		log.Debug(log.CatRouter, "route matched", "path", path, "pattern", best.Pattern)
	}
	return best, bestParams, nil
}

// Route matches the message's path and invokes the handler. Guarded
// routes verify the caller identity first; in every case the handler
// observes sanitized, frozen options with CallerIDSetBy absent.
// Handler errors propagate unwrapped.
func (r *Router) Route(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	entry, params, err := r.Match(msg.Path)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	guard := r.guard
	r.mu.RUnlock()

	if opts == nil {
		opts = message.NewOptions()
	}

	if entry.Metadata.Required != "" && guard != nil {
		if err := checkAccess(guard, entry.Metadata, opts); err != nil {
			return nil, err
		}
	}

	handlerOpts := opts.Clone()
	handlerOpts.StripCallerIDSetBy()
	handlerOpts.Freeze()

	return entry.Handler(withParams(ctx, params), msg, handlerOpts)
}

// RequireAuth wraps handler with the same access check a guarded route
// gets: callerIdSetBy must be the kernel, the caller must hold the
// required level on the owner's permission set, and the optional scope
// must be granted by the caller's profile. The wrapped handler observes
// sanitized, frozen options.
func RequireAuth(guard *Guard, required, scope string, handler Handler) Handler {
	return func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		if opts == nil {
			opts = message.NewOptions()
		}
		if err := checkAccess(guard, Metadata{Required: required, Scope: scope}, opts); err != nil {
			return nil, err
		}
		handlerOpts := opts.Clone()
		handlerOpts.StripCallerIDSetBy()
		handlerOpts.Freeze()
		return handler(ctx, msg, handlerOpts)
	}
}

// checkAccess enforces the route's Required level (and optional Scope)
// against the caller identity stamped on the options.
func checkAccess(guard *Guard, meta Metadata, opts *message.Options) error {
	required, ok := identity.ParseLevel(meta.Required)
	if !ok {
		return identity.PermissionDenied(fmt.Sprintf("unknown required level %q", meta.Required))
	}

	if guard.IsKernel == nil || !opts.HasCallerIDSetBy() || !guard.IsKernel(opts.CallerIDSetBy()) {
		return identity.PermissionDenied("callerIdSetBy is not a kernel")
	}

	caller := opts.CallerID()
	owner := guard.Owner()
	if guard.Permissions == nil || !guard.Permissions.Level(owner, caller).Covers(required) {
		return identity.PermissionDenied(fmt.Sprintf("%s access required", meta.Required))
	}

	if meta.Scope != "" && guard.Profiles != nil {
		if !guard.Profiles.ScopeAllows(caller, meta.Scope, required) {
			return identity.PermissionDenied(fmt.Sprintf("scope %q denied", meta.Scope))
		}
	}
	return nil
}

// CacheLen reports the number of cached matches.
func (r *Router) CacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.len()
}
