package identity

import (
	"fmt"
	"sync"
)

// Profile is a named mapping from scope to the level it grants. A nil
// entry (or an absent scope) denies.
type Profile struct {
	Name   string
	Scopes map[string]*Level
}

// RoleResolver maps a caller PKR to the profile name applied to it.
// Hosts supply their own resolution; the default is the applied-profile
// table maintained by Apply.
type RoleResolver func(caller PKR) (string, bool)

// ProfileRegistry is the optional scope/profile layer consulted by
// scoped route checks. It is an explicit singleton owned by the kernel;
// there is no package-level state.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	applied  map[string]string // callerUUID -> profile name
	resolver RoleResolver
}

// NewProfileRegistry creates an empty profile registry.
func NewProfileRegistry() *ProfileRegistry {
	return &ProfileRegistry{
		profiles: make(map[string]Profile),
		applied:  make(map[string]string),
	}
}

// SetResolver installs a host-supplied role resolver. A nil resolver
// falls back to the applied-profile table.
func (r *ProfileRegistry) SetResolver(resolver RoleResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = resolver
}

// Define registers a profile by name, replacing any previous definition.
func (r *ProfileRegistry) Define(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
	return nil
}

// Get returns the named profile.
func (r *ProfileRegistry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.profiles[name]
	return p, exists
}

// Apply binds the named profile to the caller identified by pkr.
func (r *ProfileRegistry) Apply(name string, pkr PKR) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[name]; !exists {
		return fmt.Errorf("unknown profile: %s", name)
	}
	r.applied[pkr.UUID] = name
	return nil
}

// ScopeAllows reports whether the caller's resolved profile grants
// scope at a level covering required.
func (r *ProfileRegistry) ScopeAllows(caller PKR, scope string, required Level) bool {
	r.mu.RLock()
	resolver := r.resolver
	r.mu.RUnlock()

	var name string
	var ok bool
	if resolver != nil {
		name, ok = resolver(caller)
	} else {
		r.mu.RLock()
		name, ok = r.applied[caller.UUID]
		r.mu.RUnlock()
	}
	if !ok {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, exists := r.profiles[name]
	if !exists {
		return false
	}
	level, exists := profile.Scopes[scope]
	if !exists || level == nil {
		return false
	}
	return level.Covers(required)
}
