// Package subsystem implements the composable unit hosted on the bus:
// a named owner of facets, routes, and child subsystems, built through
// the facet composer and addressed by its path prefix.
package subsystem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/facet"
	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/listener"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/queue"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// Status is a subsystem lifecycle state. There is no revival after
// disposal.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusBuilding  Status = "BUILDING"
	StatusBuilt     Status = "BUILT"
	StatusDisposing Status = "DISPOSING"
	StatusDisposed  Status = "DISPOSED"
)

// ErrDisposed is returned for operations on a disposed subsystem.
var ErrDisposed = errors.New("subsystem disposed")

// ErrNotBuilt is returned when routing is attempted before Build.
var ErrNotBuilt = errors.New("subsystem not built")

// Kernel is the slice of the message system a subsystem needs: the
// privileged send path and the identity context for route guards.
type Kernel interface {
	// SendProtected dispatches msg with caller as the authenticated
	// identity.
	SendProtected(ctx context.Context, caller identity.PKR, msg *message.Message, opts *message.Options) (any, error)
	// IsKernel recognizes the kernel principal's PKR.
	IsKernel(pkr identity.PKR) bool
	// Permissions is the kernel-wide RWS store.
	Permissions() *identity.ReaderWriterSet
	// Profiles is the optional scope/profile layer.
	Profiles() *identity.ProfileRegistry
}

// Config configures a subsystem.
type Config struct {
	Name string
	// Router configures the route table; nil uses defaults.
	Router *routing.Config
	// Listener configures the listener facet; nil uses the multiple
	// policy.
	Listener *listener.Config
	// Queue, when set, installs the bounded queue facet.
	Queue *queue.Config
	// Contracts is the contract registry consulted during builds.
	// Nil creates a subsystem-local registry.
	Contracts *facet.ContractRegistry
}

// Subsystem is a built unit on the bus.
type Subsystem struct {
	name   string
	config Config

	mu       sync.RWMutex
	status   Status
	parent   *Subsystem // back link, lookup only
	children map[string]*Subsystem
	childSeq []string

	composer *facet.Composer
	identity *Identity
	kernel   Kernel
}

// New creates a subsystem in the CREATED state with the canonical
// facet hooks staged. Additional hooks may be staged with Use before
// Build.
func New(config Config) (*Subsystem, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("subsystem name required")
	}
	if strings.ContainsAny(config.Name, ":/ ") {
		return nil, fmt.Errorf("invalid subsystem name: %q", config.Name)
	}

	contracts := config.Contracts
	if contracts == nil {
		contracts = facet.NewContractRegistry()
	}

	s := &Subsystem{
		name:     config.Name,
		config:   config,
		status:   StatusCreated,
		children: make(map[string]*Subsystem),
	}
	s.composer = facet.NewComposer(s, contracts)

	if err := s.stageCanonicalHooks(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the subsystem name. Implements facet.Owner.
func (s *Subsystem) Name() string { return s.name }

// PathPrefix returns the address prefix this subsystem's routes start
// with: "name://" for a root, "root://child" joined with "/" for
// nested children.
func (s *Subsystem) PathPrefix() string {
	s.mu.RLock()
	parent := s.parent
	s.mu.RUnlock()
	if parent == nil {
		return s.name + "://"
	}
	base := parent.PathPrefix()
	if !strings.HasSuffix(base, "://") {
		base += "/"
	}
	return base + s.name
}

// Status returns the lifecycle state.
func (s *Subsystem) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Use stages a hook for the next build.
func (s *Subsystem) Use(h *facet.Hook) error {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status == StatusDisposed || status == StatusDisposing {
		return ErrDisposed
	}
	return s.composer.Use(h)
}

// Build composes the staged hooks. A failed build rolls back every
// facet it added and leaves the subsystem in CREATED, ready to retry.
func (s *Subsystem) Build(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusCreated:
	case StatusBuilding:
		s.mu.Unlock()
		return facet.ErrBuildInProgress
	default:
		s.mu.Unlock()
		return fmt.Errorf("cannot build subsystem in state %s", s.status)
	}
	s.status = StatusBuilding
	s.mu.Unlock()

	if err := s.composer.Build(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusCreated
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.status = StatusBuilt
	s.mu.Unlock()
	return nil
}

// Dispose tears the subsystem down: children first, then facets in
// reverse build order. Errors are collected; disposal always proceeds.
func (s *Subsystem) Dispose() error {
	s.mu.Lock()
	if s.status == StatusDisposed || s.status == StatusDisposing {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDisposing
	children := make([]*Subsystem, 0, len(s.childSeq))
	for _, name := range s.childSeq {
		children = append(children, s.children[name])
	}
	s.mu.Unlock()

	var errs []error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.composer.Dispose(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.status = StatusDisposed
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Find returns the facet registered under kind.
func (s *Subsystem) Find(kind string) (*facet.Facet, bool) {
	return s.composer.Find(kind)
}

// Composer exposes the underlying composer for transactional hosts.
func (s *Subsystem) Composer() *facet.Composer { return s.composer }

// AddChild links a child subsystem. Child paths extend the parent's
// prefix; the back link is lookup-only.
func (s *Subsystem) AddChild(child *Subsystem) error {
	if child == nil {
		return fmt.Errorf("nil child")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.children[child.name]; exists {
		return fmt.Errorf("child already registered: %s", child.name)
	}
	s.children[child.name] = child
	s.childSeq = append(s.childSeq, child.name)

	child.mu.Lock()
	child.parent = s
	child.mu.Unlock()
	return nil
}

// Children returns the child subsystems in registration order.
func (s *Subsystem) Children() []*Subsystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subsystem, 0, len(s.childSeq))
	for _, name := range s.childSeq {
		out = append(out, s.children[name])
	}
	return out
}

// BindKernel attaches the kernel handle and this subsystem's identity.
// Called by the kernel during registration, after a successful build.
func (s *Subsystem) BindKernel(k Kernel, pkr identity.PKR) {
	s.mu.Lock()
	s.kernel = k
	s.identity = NewIdentity(pkr, k)
	s.mu.Unlock()

	if router, exists := s.RouterFacet(); exists {
		router.SetGuard(s.Guard())
	}
}

// Identity returns the subsystem's identity wrapper, if bound.
func (s *Subsystem) Identity() (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.identity != nil
}

// PKR returns the subsystem's current PKR; zero if unbound.
func (s *Subsystem) PKR() identity.PKR {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return identity.PKR{}
	}
	return s.identity.PKR()
}

// Guard builds the routing guard for this subsystem. The closures
// late-bind so key rotation and deferred kernel binding are observed.
func (s *Subsystem) Guard() *routing.Guard {
	return &routing.Guard{
		Owner: s.PKR,
		IsKernel: func(pkr identity.PKR) bool {
			s.mu.RLock()
			k := s.kernel
			s.mu.RUnlock()
			return k != nil && k.IsKernel(pkr)
		},
		Permissions: s.permissions(),
		Profiles:    s.profiles(),
	}
}

func (s *Subsystem) permissions() *identity.ReaderWriterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kernel == nil {
		return nil
	}
	return s.kernel.Permissions()
}

func (s *Subsystem) profiles() *identity.ProfileRegistry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kernel == nil {
		return nil
	}
	return s.kernel.Profiles()
}

// RouterFacet returns the canonical router facet value.
func (s *Subsystem) RouterFacet() (*routing.Router, bool) {
	f, exists := s.Find(KindRouter)
	if !exists {
		return nil, false
	}
	router, ok := f.Value.(*routing.Router)
	return router, ok
}

// RegisterRoute adds a pattern to the subsystem router.
func (s *Subsystem) RegisterRoute(pattern string, handler routing.Handler, meta routing.Metadata) error {
	router, exists := s.RouterFacet()
	if !exists {
		return ErrNotBuilt
	}
	return router.Register(pattern, handler, meta)
}

// UnregisterRoute removes a pattern from the subsystem router.
func (s *Subsystem) UnregisterRoute(pattern string) error {
	router, exists := s.RouterFacet()
	if !exists {
		return ErrNotBuilt
	}
	return router.Unregister(pattern)
}

// Route dispatches a message addressed to this subsystem or one of its
// descendants. The subsystem's own router is consulted first; unmatched
// paths descend into the child whose prefix covers them.
func (s *Subsystem) Route(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	if s.Status() != StatusBuilt {
		return nil, ErrNotBuilt
	}

	router, exists := s.RouterFacet()
	if exists {
		result, err := router.Route(ctx, msg, opts)
		if err == nil || !errors.Is(err, routing.ErrRouteNotFound) {
			return result, err
		}
	}

	for _, child := range s.Children() {
		prefix := child.PathPrefix()
		if strings.HasPrefix(msg.Path, prefix+"/") || msg.Path == prefix {
			return child.Route(ctx, msg, opts)
		}
	}
	return nil, routing.NotFound(msg.Path)
}

// Send dispatches a message through the kernel under this subsystem's
// identity.
func (s *Subsystem) Send(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	id, bound := s.Identity()
	if !bound {
		return nil, fmt.Errorf("subsystem %s has no identity", s.name)
	}
	return id.SendProtected(ctx, msg, opts)
}
