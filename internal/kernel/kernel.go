// Package kernel implements the message system: the privileged root of
// the bus. It authenticates callers on every send, enforces channel
// ACLs, tracks pending responses, and routes messages to registered
// subsystems by their path prefix.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lesfleursdelanuitdev/mycelia/internal/channel"
	"github.com/lesfleursdelanuitdev/mycelia/internal/errrec"
	"github.com/lesfleursdelanuitdev/mycelia/internal/facet"
	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/response"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
	"github.com/lesfleursdelanuitdev/mycelia/internal/subsystem"
)

// Name is the reserved kernel subsystem name. It is hidden from
// Find/Get and cannot be registered by hosts.
const Name = "kernel"

// ErrNameReserved is returned when a host registers a subsystem under
// the kernel's name.
var ErrNameReserved = errors.New("subsystem name is reserved")

// ErrAlreadyRegistered is returned for duplicate subsystem names.
var ErrAlreadyRegistered = errors.New("subsystem already registered")

// ErrMissingCaller is returned when sendProtected is invoked without a
// caller PKR.
var ErrMissingCaller = errors.New("caller pkr required")

// oneShotRoute recognizes temporary reply paths, which bypass channel
// ACL checks.
var oneShotRoute = regexp.MustCompile(`^[^:/]+://request/oneShot/.+$`)

// Config configures a message system.
type Config struct {
	// Router configures the kernel subsystem's route table.
	Router *routing.Config
	// Response configures the response manager.
	Response *response.Config
	// ErrorCapacity bounds the kernel error store.
	ErrorCapacity int
}

// MessageSystem is the bus: the privileged dispatcher all subsystems
// send through.
type MessageSystem struct {
	mu       sync.RWMutex
	registry map[string]*subsystem.Subsystem
	order    []string

	root        *subsystem.Subsystem
	kernelPKR   identity.PKR
	principals  *identity.Registry
	permissions *identity.ReaderWriterSet
	profiles    *identity.ProfileRegistry
	channels    *channel.Manager
	responses   *response.Manager
	errs        *errrec.Store
	contracts   *facet.ContractRegistry
	factory     *message.Factory

	tracer trace.Tracer
	closed bool
}

// New boots a message system: principal registry with the kernel
// principal, permission and profile stores, channel registry, response
// manager, error store, and the kernel subsystem with its operational
// routes.
func New(ctx context.Context, config *Config) (*MessageSystem, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}

	ms := &MessageSystem{
		registry:  make(map[string]*subsystem.Subsystem),
		contracts: facet.NewContractRegistry(),
	}
	ms.principals = identity.NewRegistry()
	ms.permissions = identity.NewReaderWriterSet(ms.principals)
	ms.profiles = identity.NewProfileRegistry()
	ms.channels = channel.NewManager(ms.principals.IsKernel)
	ms.errs = errrec.NewStore(cfg.ErrorCapacity)
	ms.factory = message.NewFactory(Name)

	root, err := subsystem.New(subsystem.Config{
		Name:      Name,
		Router:    cfg.Router,
		Contracts: ms.contracts,
	})
	if err != nil {
		return nil, err
	}
	// The principal registry is kernel-held state exposed to the
	// kernel subsystem as its principals facet.
	if err := root.Use(&facet.Hook{
		Kind:   subsystem.KindPrincipals,
		Attach: true,
		Source: "kernel/bootstrap",
		Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
			return &facet.Facet{Value: ms.principals}, nil
		},
	}); err != nil {
		return nil, err
	}
	if err := root.Build(ctx); err != nil {
		return nil, fmt.Errorf("building kernel subsystem: %w", err)
	}
	ms.root = root

	kernelPKR, err := ms.principals.CreatePrincipal(identity.KindKernel, identity.CreateOptions{Name: Name})
	if err != nil {
		return nil, fmt.Errorf("minting kernel principal: %w", err)
	}
	ms.kernelPKR = kernelPKR
	root.BindKernel(ms, kernelPKR)
	if id, bound := root.Identity(); bound {
		if p, exists := ms.principals.Get(kernelPKR.UUID); exists {
			_ = ms.principals.SetInstance(p.UUID, id)
		}
	}

	ms.responses = response.NewManager(cfg.Response, ms.factory, func(msg *message.Message, opts *message.Options) error {
		_, err := ms.SendProtected(context.Background(), ms.kernelPKR, msg, opts)
		return err
	})
	ms.responses.Start()

	if err := ms.registerKernelRoutes(); err != nil {
		return nil, fmt.Errorf("registering kernel routes: %w", err)
	}
	return ms, nil
}

// Close stops the response manager and disposes every subsystem,
// kernel last. Errors are collected.
func (ms *MessageSystem) Close() error {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return nil
	}
	ms.closed = true
	names := make([]string, len(ms.order))
	copy(names, ms.order)
	ms.mu.Unlock()

	ms.responses.Close()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		ms.mu.RLock()
		s := ms.registry[names[i]]
		ms.mu.RUnlock()
		if s == nil {
			continue
		}
		if err := s.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ms.root.Dispose(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SetTracer installs an otel tracer; spans cover each privileged send.
// A nil tracer disables tracing.
func (ms *MessageSystem) SetTracer(tracer trace.Tracer) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tracer = tracer
}

// KernelPKR returns the kernel principal's PKR.
func (ms *MessageSystem) KernelPKR() identity.PKR { return ms.kernelPKR }

// IsKernel implements subsystem.Kernel.
func (ms *MessageSystem) IsKernel(pkr identity.PKR) bool {
	return ms.principals.IsKernel(pkr)
}

// Permissions implements subsystem.Kernel.
func (ms *MessageSystem) Permissions() *identity.ReaderWriterSet { return ms.permissions }

// Profiles implements subsystem.Kernel.
func (ms *MessageSystem) Profiles() *identity.ProfileRegistry { return ms.profiles }

// AccessControl returns the principal registry handle.
func (ms *MessageSystem) AccessControl() *identity.Registry { return ms.principals }

// ErrorManager returns the kernel's bounded error store.
func (ms *MessageSystem) ErrorManager() *errrec.Store { return ms.errs }

// ResponseManager returns the pending-response manager.
func (ms *MessageSystem) ResponseManager() *response.Manager { return ms.responses }

// ChannelManager returns the channel registry.
func (ms *MessageSystem) ChannelManager() *channel.Manager { return ms.channels }

// Contracts returns the contract registry the kernel subsystem is built
// with. Registered subsystems consult it only when their
// subsystem.Config.Contracts is set to it; otherwise they use a
// registry of their own.
func (ms *MessageSystem) Contracts() *facet.ContractRegistry { return ms.contracts }

// Factory returns the kernel's message factory.
func (ms *MessageSystem) Factory() *message.Factory { return ms.factory }

// CreateChannel implements subsystem.ChannelOps.
func (ms *MessageSystem) CreateChannel(route string, owner identity.PKR, metadata map[string]any) error {
	_, err := ms.channels.Create(route, owner, metadata)
	return err
}

// JoinChannel implements subsystem.ChannelOps.
func (ms *MessageSystem) JoinChannel(route string, caller, participant identity.PKR) error {
	return ms.channels.Join(route, caller, participant)
}

// LeaveChannel implements subsystem.ChannelOps.
func (ms *MessageSystem) LeaveChannel(route string, caller, participant identity.PKR) error {
	return ms.channels.Leave(route, caller, participant)
}

// RegisterSubsystem builds s, mints its principal, attaches its
// identity, inserts it into the bus registry, and recursively
// registers its children.
func (ms *MessageSystem) RegisterSubsystem(ctx context.Context, s *subsystem.Subsystem) (*subsystem.Subsystem, error) {
	if s.Name() == Name {
		return nil, fmt.Errorf("%w: %s", ErrNameReserved, Name)
	}

	ms.mu.Lock()
	if _, exists := ms.registry[s.Name()]; exists {
		ms.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, s.Name())
	}
	ms.mu.Unlock()

	if err := ms.attach(ctx, s); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	ms.registry[s.Name()] = s
	ms.order = append(ms.order, s.Name())
	ms.mu.Unlock()

	log.Info(log.CatBus, "subsystem registered", "name", s.Name())
	return s, nil
}

// attach builds and binds one subsystem and recurses into children.
func (ms *MessageSystem) attach(ctx context.Context, s *subsystem.Subsystem) error {
	if s.Status() == subsystem.StatusCreated {
		if err := s.Build(ctx); err != nil {
			return fmt.Errorf("building %s: %w", s.Name(), err)
		}
	}

	pkr, err := ms.principals.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{
		Name: s.PathPrefix(),
	})
	if err != nil {
		return fmt.Errorf("minting principal for %s: %w", s.Name(), err)
	}
	s.BindKernel(ms, pkr)
	if id, bound := s.Identity(); bound {
		_ = ms.principals.SetInstance(pkr.UUID, id)
	}

	for _, child := range s.Children() {
		if err := ms.attach(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// Find returns a registered top-level subsystem. The kernel itself is
// hidden.
func (ms *MessageSystem) Find(name string) (*subsystem.Subsystem, bool) {
	if name == Name {
		return nil, false
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	s, exists := ms.registry[name]
	return s, exists
}

// Subsystems returns the registered top-level names in order.
func (ms *MessageSystem) Subsystems() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]string, len(ms.order))
	copy(out, ms.order)
	return out
}

// SendProtected is the privileged send pipeline. It stamps the
// authenticated caller identity (discarding anything the caller put
// there), notifies the response manager, enforces channel ACLs, and
// routes. Options are frozen before handoff.
func (ms *MessageSystem) SendProtected(ctx context.Context, caller identity.PKR, msg *message.Message, opts *message.Options) (result any, err error) {
	if ms.kernelPKR.IsZero() {
		return nil, fmt.Errorf("kernel has no identity")
	}
	if caller.IsZero() {
		return nil, ErrMissingCaller
	}
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}

	sendOpts := opts.Clone()
	if sendOpts.HasCallerID() || sendOpts.HasCallerIDSetBy() {
		log.Warn(log.CatBus, "caller identity supplied by caller; stripping",
			"path", msg.Path, "caller", caller.UUID)
		sendOpts.StripCallerIdentity()
	}
	sendOpts.SetCallerIdentity(caller, ms.kernelPKR)

	ms.mu.RLock()
	tracer := ms.tracer
	ms.mu.RUnlock()
	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "kernel.sendProtected",
			trace.WithAttributes(
				attribute.String("path", msg.Path),
				attribute.String("caller", caller.UUID),
				attribute.Bool("response", sendOpts.IsResponse()),
			))
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()
	}

	if sendOpts.IsResponse() {
		if _, synthetic := sendOpts.Get(response.SyntheticOptionKey); !synthetic {
			if herr := ms.responses.HandleResponse(msg); herr != nil {
				// Out-of-band replies are tolerated; tracking is
				// best-effort.
				log.Warn(log.CatResponse, "response tracking miss",
					"path", msg.Path, "error", herr)
			}
		}
		if !oneShotRoute.MatchString(msg.Path) {
			if aerr := ms.channels.Authorize(msg.Path, caller); aerr != nil {
				ms.errs.Record(Name, "UnauthorizedChannelUse", aerr, map[string]any{"path": msg.Path})
				return nil, aerr
			}
		}
		sendOpts.Freeze()
		return ms.route(ctx, msg, sendOpts)
	}

	if rr := sendOpts.ResponseRequired(); rr != nil {
		if rr.ReplyTo == "" {
			log.Warn(log.CatResponse, "responseRequired missing replyTo; not tracking", "path", msg.Path)
		} else if rerr := ms.responses.Register(msg.ID, caller, rr.ReplyTo, rr.TimeoutMillis); rerr != nil {
			log.Warn(log.CatResponse, "pending response registration failed",
				"path", msg.Path, "error", rerr)
		}
	}

	if aerr := ms.channels.Authorize(msg.Path, caller); aerr != nil {
		ms.errs.Record(Name, "UnauthorizedChannelUse", aerr, map[string]any{"path": msg.Path})
		return nil, aerr
	}

	sendOpts.Freeze()
	return ms.route(ctx, msg, sendOpts)
}

// route dispatches by the leading subsystem prefix: kernel paths to
// the kernel subsystem, everything else to the registry entry.
func (ms *MessageSystem) route(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	idx := strings.Index(msg.Path, "://")
	if idx <= 0 {
		return nil, routing.NotFound(msg.Path)
	}
	name := msg.Path[:idx]

	if name == Name {
		return ms.root.Route(ctx, msg, opts)
	}

	ms.mu.RLock()
	target, exists := ms.registry[name]
	ms.mu.RUnlock()
	if !exists {
		ms.errs.Record(Name, "RouteNotFound", routing.NotFound(msg.Path), nil)
		return nil, routing.NotFound(msg.Path)
	}

	result, err := target.Route(ctx, msg, opts)
	if err != nil {
		if errors.Is(err, routing.ErrRouteNotFound) {
			ms.errs.Record(Name, "RouteNotFound", err, nil)
		} else if identity.IsPermissionDenied(err) {
			ms.errs.Record(Name, "PermissionDenied", err, map[string]any{"path": msg.Path})
		}
	}
	return result, err
}
