package kernel

import (
	"context"
	"fmt"

	"github.com/lesfleursdelanuitdev/mycelia/internal/errrec"
	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// registerKernelRoutes installs the kernel's operational surface on
// the kernel subsystem's router. Mutations are authorized by the
// stores themselves (RWS grants require grant, channel joins require
// ownership); profile definition and application carry no
// authorization check. Queries are open to authenticated callers.
func (ms *MessageSystem) registerKernelRoutes() error {
	routes := []struct {
		pattern string
		handler routing.Handler
		meta    routing.Metadata
	}{
		{"kernel://create/resource", ms.handleCreateResource,
			routing.Metadata{Description: "mint a resource principal owned by the caller"}},
		{"kernel://create/friend", ms.handleCreateFriend,
			routing.Metadata{Description: "mint a friend principal owned by the caller"}},
		{"kernel://query/resource/{name}", ms.handleQueryResource,
			routing.Metadata{Description: "look up a principal by name"}},
		{"kernel://query/resources/by-owner", ms.handleQueryResourcesByOwner,
			routing.Metadata{Description: "list principals owned by the caller"}},
		{"kernel://grant/permission/{resourceName}", ms.handleGrantPermission,
			routing.Metadata{Description: "grant a level on a resource's permission set"}},
		{"kernel://revoke/permission/{resourceName}", ms.handleRevokePermission,
			routing.Metadata{Description: "revoke a grantee from a resource's permission set"}},
		{"kernel://create/profile", ms.handleCreateProfile,
			routing.Metadata{Description: "define a security profile"}},
		{"kernel://apply/profile/{name}", ms.handleApplyProfile,
			routing.Metadata{Description: "apply a profile to a principal"}},
		{"kernel://create/channel", ms.handleCreateChannel,
			routing.Metadata{Description: "register a channel route owned by the caller"}},
		{"kernel://channel/join", ms.handleChannelJoin,
			routing.Metadata{Description: "add a participant to a caller-owned channel"}},
		{"kernel://channel/leave", ms.handleChannelLeave,
			routing.Metadata{Description: "remove a participant from a channel"}},
		{"kernel://query/subsystems", ms.handleQuerySubsystems,
			routing.Metadata{Description: "list registered subsystems"}},
		{"kernel://query/status", ms.handleQueryStatus,
			routing.Metadata{Description: "report subsystem lifecycle states"}},
		{"kernel://query/routes", ms.handleQueryRoutes,
			routing.Metadata{Description: "list registered route patterns"}},
		{"kernel://query/errors", ms.handleQueryErrors,
			routing.Metadata{Description: "read recent kernel error records"}},
	}

	router, exists := ms.root.RouterFacet()
	if !exists {
		return fmt.Errorf("kernel subsystem has no router")
	}
	for _, r := range routes {
		if err := router.Register(r.pattern, r.handler, r.meta); err != nil {
			return err
		}
	}
	return nil
}

// body reads the message body as a string-keyed map.
func body(msg *message.Message) map[string]any {
	if m, ok := msg.Body.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func bodyString(msg *message.Message, key string) string {
	v, _ := body(msg)[key].(string)
	return v
}

func (ms *MessageSystem) createOwned(kind identity.Kind, msg *message.Message, opts *message.Options) (any, error) {
	caller := opts.CallerID()
	name := bodyString(msg, "name")
	metadata, _ := body(msg)["metadata"].(map[string]any)

	pkr, err := ms.principals.CreatePrincipal(kind, identity.CreateOptions{
		Name:     name,
		Metadata: metadata,
		Owner:    &caller,
	})
	if err != nil {
		return nil, err
	}
	// The creator owns the new principal's permission set outright.
	if err := ms.permissions.Grant(ms.kernelPKR, pkr, caller, identity.LevelReadWriteGrant); err != nil {
		return nil, err
	}
	return map[string]any{"uuid": pkr.UUID, "pkr": pkr}, nil
}

func (ms *MessageSystem) handleCreateResource(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	return ms.createOwned(identity.KindResource, msg, opts)
}

func (ms *MessageSystem) handleCreateFriend(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	return ms.createOwned(identity.KindFriend, msg, opts)
}

func (ms *MessageSystem) handleQueryResource(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	name := routing.Param(ctx, "name")
	p, exists := ms.principals.GetByName(name)
	if !exists {
		return nil, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, name)
	}
	return map[string]any{
		"uuid": p.UUID,
		"kind": string(p.Kind),
		"name": p.Name,
		"pkr":  p.PKR(),
	}, nil
}

func (ms *MessageSystem) handleQueryResourcesByOwner(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	owned := ms.principals.ListByOwner(opts.CallerID())
	out := make([]map[string]any, 0, len(owned))
	for _, p := range owned {
		out = append(out, map[string]any{"uuid": p.UUID, "kind": string(p.Kind), "name": p.Name})
	}
	return out, nil
}

// resolveGrantee accepts either a grantee uuid (registered principal)
// or a full PKR in the body.
func (ms *MessageSystem) resolveGrantee(msg *message.Message) (identity.PKR, error) {
	if uuid := bodyString(msg, "grantee"); uuid != "" {
		p, exists := ms.principals.Get(uuid)
		if !exists {
			return identity.PKR{}, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, uuid)
		}
		return p.PKR(), nil
	}
	if pkr, ok := body(msg)["granteePkr"].(identity.PKR); ok {
		return pkr, nil
	}
	return identity.PKR{}, fmt.Errorf("grantee required")
}

func (ms *MessageSystem) handleGrantPermission(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	resource, exists := ms.principals.GetByName(routing.Param(ctx, "resourceName"))
	if !exists {
		return nil, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, routing.Param(ctx, "resourceName"))
	}
	grantee, err := ms.resolveGrantee(msg)
	if err != nil {
		return nil, err
	}
	level, ok := identity.ParseLevel(bodyString(msg, "level"))
	if !ok {
		return nil, fmt.Errorf("invalid level: %q", bodyString(msg, "level"))
	}
	if err := ms.permissions.Grant(opts.CallerID(), resource.PKR(), grantee, level); err != nil {
		return nil, err
	}
	return map[string]any{"granted": level.String()}, nil
}

func (ms *MessageSystem) handleRevokePermission(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	resource, exists := ms.principals.GetByName(routing.Param(ctx, "resourceName"))
	if !exists {
		return nil, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, routing.Param(ctx, "resourceName"))
	}
	grantee, err := ms.resolveGrantee(msg)
	if err != nil {
		return nil, err
	}
	if err := ms.permissions.Revoke(opts.CallerID(), resource.PKR(), grantee); err != nil {
		return nil, err
	}
	return map[string]any{"revoked": true}, nil
}

func (ms *MessageSystem) handleCreateProfile(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	name := bodyString(msg, "name")
	scopes := make(map[string]*identity.Level)
	if raw, ok := body(msg)["scopes"].(map[string]any); ok {
		for scope, v := range raw {
			if v == nil {
				scopes[scope] = nil
				continue
			}
			levelStr, _ := v.(string)
			level, ok := identity.ParseLevel(levelStr)
			if !ok {
				return nil, fmt.Errorf("invalid level for scope %q: %v", scope, v)
			}
			scopes[scope] = &level
		}
	}
	if err := ms.profiles.Define(identity.Profile{Name: name, Scopes: scopes}); err != nil {
		return nil, err
	}
	return map[string]any{"profile": name}, nil
}

func (ms *MessageSystem) handleApplyProfile(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	name := routing.Param(ctx, "name")
	target := opts.CallerID()
	if uuid := bodyString(msg, "uuid"); uuid != "" {
		p, exists := ms.principals.Get(uuid)
		if !exists {
			return nil, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, uuid)
		}
		target = p.PKR()
	}
	if err := ms.profiles.Apply(name, target); err != nil {
		return nil, err
	}
	return map[string]any{"applied": name}, nil
}

func (ms *MessageSystem) handleCreateChannel(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	route := bodyString(msg, "route")
	metadata, _ := body(msg)["metadata"].(map[string]any)
	if _, err := ms.channels.Create(route, opts.CallerID(), metadata); err != nil {
		return nil, err
	}
	return map[string]any{"route": route}, nil
}

func (ms *MessageSystem) channelParticipant(msg *message.Message) (identity.PKR, error) {
	uuid := bodyString(msg, "participant")
	p, exists := ms.principals.Get(uuid)
	if !exists {
		return identity.PKR{}, fmt.Errorf("%w: %s", identity.ErrUnknownPrincipal, uuid)
	}
	return p.PKR(), nil
}

func (ms *MessageSystem) handleChannelJoin(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	participant, err := ms.channelParticipant(msg)
	if err != nil {
		return nil, err
	}
	if err := ms.channels.Join(bodyString(msg, "route"), opts.CallerID(), participant); err != nil {
		return nil, err
	}
	return map[string]any{"joined": participant.UUID}, nil
}

func (ms *MessageSystem) handleChannelLeave(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	participant, err := ms.channelParticipant(msg)
	if err != nil {
		return nil, err
	}
	if err := ms.channels.Leave(bodyString(msg, "route"), opts.CallerID(), participant); err != nil {
		return nil, err
	}
	return map[string]any{"left": participant.UUID}, nil
}

func (ms *MessageSystem) handleQuerySubsystems(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	return ms.Subsystems(), nil
}

func (ms *MessageSystem) handleQueryStatus(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	out := map[string]any{Name: string(ms.root.Status())}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, name := range ms.order {
		out[name] = string(ms.registry[name].Status())
	}
	return out, nil
}

func (ms *MessageSystem) handleQueryRoutes(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	out := make(map[string][]string)
	collect := func(s interface {
		Name() string
		RouterFacet() (*routing.Router, bool)
	}) {
		router, exists := s.RouterFacet()
		if !exists {
			return
		}
		patterns := make([]string, 0)
		for _, entry := range router.Entries() {
			patterns = append(patterns, entry.Pattern)
		}
		out[s.Name()] = patterns
	}
	collect(ms.root)
	ms.mu.RLock()
	names := make([]string, len(ms.order))
	copy(names, ms.order)
	ms.mu.RUnlock()
	for _, name := range names {
		if s, exists := ms.Find(name); exists {
			collect(s)
		}
	}
	return out, nil
}

func (ms *MessageSystem) handleQueryErrors(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	n := errrec.DefaultCapacity
	if v, ok := body(msg)["count"].(int); ok && v > 0 {
		n = v
	}
	return ms.errs.Recent(n), nil
}
