// Package channel implements the kernel's channel registry: named,
// ACL-gated routes used as persistent reply destinations. A caller may
// use a channel if it owns it or is among its participants; the kernel
// principal may use every channel.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
)

// ErrChannelExists is returned when a route is registered twice.
var ErrChannelExists = errors.New("channel already exists")

// ErrChannelNotFound is returned for lookups of unregistered routes.
var ErrChannelNotFound = errors.New("channel not found")

// UnauthorizedChannelUseError is returned when a caller is neither the
// owner nor a participant of a channel.
type UnauthorizedChannelUseError struct {
	Path string
}

func (e *UnauthorizedChannelUseError) Error() string {
	return fmt.Sprintf("unauthorized channel use: %s", e.Path)
}

// Channel is a registered reply route.
type Channel struct {
	Route        string
	Owner        identity.PKR
	Metadata     map[string]any
	participants map[string]identity.PKR // uuid -> pkr
}

// Participants returns the participant PKRs.
func (c *Channel) Participants() []identity.PKR {
	out := make([]identity.PKR, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Manager is the kernel-owned channel registry. Lookup is by exact
// route string; paths that are not registered channels pass ACL checks
// untouched.
type Manager struct {
	mu       sync.RWMutex
	byRoute  map[string]*Channel
	isKernel func(identity.PKR) bool
}

// NewManager creates an empty channel registry. isKernel may be nil if
// the kernel bypass is not wanted.
func NewManager(isKernel func(identity.PKR) bool) *Manager {
	return &Manager{
		byRoute:  make(map[string]*Channel),
		isKernel: isKernel,
	}
}

// Create registers a channel route owned by owner.
func (m *Manager) Create(route string, owner identity.PKR, metadata map[string]any) (*Channel, error) {
	if route == "" {
		return nil, fmt.Errorf("channel route required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRoute[route]; exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, route)
	}
	ch := &Channel{
		Route:        route,
		Owner:        owner,
		Metadata:     metadata,
		participants: make(map[string]identity.PKR),
	}
	m.byRoute[route] = ch
	return ch, nil
}

// Remove drops a channel. Only the owner (or kernel) may remove it.
func (m *Manager) Remove(route string, caller identity.PKR) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, exists := m.byRoute[route]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, route)
	}
	if ch.Owner.UUID != caller.UUID && !m.kernelBypass(caller) {
		return &UnauthorizedChannelUseError{Path: route}
	}
	delete(m.byRoute, route)
	return nil
}

// Join adds a participant. Only the owner (or kernel) may grant access.
func (m *Manager) Join(route string, caller, participant identity.PKR) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, exists := m.byRoute[route]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, route)
	}
	if ch.Owner.UUID != caller.UUID && !m.kernelBypass(caller) {
		return &UnauthorizedChannelUseError{Path: route}
	}
	ch.participants[participant.UUID] = participant
	return nil
}

// Leave removes a participant. Participants may remove themselves; the
// owner (or kernel) may remove anyone.
func (m *Manager) Leave(route string, caller, participant identity.PKR) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, exists := m.byRoute[route]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, route)
	}
	if caller.UUID != participant.UUID && ch.Owner.UUID != caller.UUID && !m.kernelBypass(caller) {
		return &UnauthorizedChannelUseError{Path: route}
	}
	delete(ch.participants, participant.UUID)
	return nil
}

// Get returns the channel registered at route.
func (m *Manager) Get(route string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, exists := m.byRoute[route]
	return ch, exists
}

// List returns all registered routes.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byRoute))
	for route := range m.byRoute {
		out = append(out, route)
	}
	return out
}

// Authorize checks whether caller may address path. Paths that are not
// channels pass. For channels, the caller must be the owner, a
// participant, or the kernel.
func (m *Manager) Authorize(path string, caller identity.PKR) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, exists := m.byRoute[path]
	if !exists {
		return nil
	}
	if ch.Owner.UUID == caller.UUID {
		return nil
	}
	if _, participant := ch.participants[caller.UUID]; participant {
		return nil
	}
	if m.kernelBypass(caller) {
		return nil
	}
	return &UnauthorizedChannelUseError{Path: path}
}

func (m *Manager) kernelBypass(caller identity.PKR) bool {
	return m.isKernel != nil && m.isKernel(caller)
}
