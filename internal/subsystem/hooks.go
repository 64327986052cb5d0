package subsystem

import (
	"context"

	"github.com/lesfleursdelanuitdev/mycelia/internal/facet"
	"github.com/lesfleursdelanuitdev/mycelia/internal/listener"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/queue"
	"github.com/lesfleursdelanuitdev/mycelia/internal/request"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// Canonical facet kinds every built subsystem exposes.
const (
	KindRouter     = "router"
	KindMessages   = "messages"
	KindListeners  = "listeners"
	KindRequests   = "requests"
	KindCommands   = "commands"
	KindResponses  = "responses"
	KindChannels   = "channels"
	KindQueue      = "queue"
	KindPrincipals = "principals"
)

// stageCanonicalHooks installs the default capability set. User hooks
// staged later may overwrite any of these by kind.
func (s *Subsystem) stageCanonicalHooks() error {
	hooks := []*facet.Hook{
		{
			Kind:   KindRouter,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				router := routing.NewRouter(s.config.Router)
				return &facet.Facet{Value: router}, nil
			},
		},
		{
			Kind:   KindMessages,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				return &facet.Facet{Value: message.NewFactory(s.name)}, nil
			},
		},
		{
			Kind:   KindListeners,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				registry := listener.NewRegistry(s.config.Listener)
				return &facet.Facet{
					Value:   registry,
					Dispose: func() error { registry.Dispose(); return nil },
				}, nil
			},
		},
		{
			Kind:     KindRequests,
			Required: []string{KindRouter, KindMessages},
			Attach:   true,
			Source:   "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				router, _ := s.RouterFacet()
				coordinator := request.NewOneShot(s.name, router, s.Send)
				return &facet.Facet{Value: coordinator}, nil
			},
		},
		{
			Kind:   KindCommands,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				coordinator := request.NewCommand(s.Send)
				return &facet.Facet{
					Value:   coordinator,
					Dispose: func() error { coordinator.Dispose(); return nil },
				}, nil
			},
		},
		{
			Kind:     KindResponses,
			Required: []string{KindCommands},
			Attach:   true,
			Source:   "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				commands, _ := s.Commands()
				return &facet.Facet{Value: NewResponseBridge(commands)}, nil
			},
		},
		{
			Kind:   KindChannels,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				return &facet.Facet{Value: NewChannelClient(s)}, nil
			},
		},
	}

	if s.config.Queue != nil {
		hooks = append(hooks, &facet.Hook{
			Kind:   KindQueue,
			Attach: true,
			Source: "subsystem/canonical",
			Fn: func(ctx context.Context, c *facet.Composer, owner facet.Owner) (*facet.Facet, error) {
				q, err := queue.NewQueue(s.config.Queue)
				if err != nil {
					return nil, err
				}
				return &facet.Facet{Value: q}, nil
			},
		})
	}

	for _, h := range hooks {
		if err := s.composer.Use(h); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns the canonical message factory.
func (s *Subsystem) Messages() (*message.Factory, bool) {
	f, exists := s.Find(KindMessages)
	if !exists {
		return nil, false
	}
	factory, ok := f.Value.(*message.Factory)
	return factory, ok
}

// Listeners returns the canonical listener registry.
func (s *Subsystem) Listeners() (*listener.Registry, bool) {
	f, exists := s.Find(KindListeners)
	if !exists {
		return nil, false
	}
	registry, ok := f.Value.(*listener.Registry)
	return registry, ok
}

// Requests returns the canonical one-shot coordinator.
func (s *Subsystem) Requests() (*request.OneShot, bool) {
	f, exists := s.Find(KindRequests)
	if !exists {
		return nil, false
	}
	coordinator, ok := f.Value.(*request.OneShot)
	return coordinator, ok
}

// Commands returns the canonical command coordinator.
func (s *Subsystem) Commands() (*request.Command, bool) {
	f, exists := s.Find(KindCommands)
	if !exists {
		return nil, false
	}
	coordinator, ok := f.Value.(*request.Command)
	return coordinator, ok
}

// Responses returns the canonical response bridge.
func (s *Subsystem) Responses() (*ResponseBridge, bool) {
	f, exists := s.Find(KindResponses)
	if !exists {
		return nil, false
	}
	bridge, ok := f.Value.(*ResponseBridge)
	return bridge, ok
}

// Channels returns the canonical channel client.
func (s *Subsystem) Channels() (*ChannelClient, bool) {
	f, exists := s.Find(KindChannels)
	if !exists {
		return nil, false
	}
	client, ok := f.Value.(*ChannelClient)
	return client, ok
}

// QueueFacet returns the optional bounded queue.
func (s *Subsystem) QueueFacet() (*queue.Queue, bool) {
	f, exists := s.Find(KindQueue)
	if !exists {
		return nil, false
	}
	q, ok := f.Value.(*queue.Queue)
	return q, ok
}
