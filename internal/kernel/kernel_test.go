package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/request"
	"github.com/lesfleursdelanuitdev/mycelia/internal/response"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
	"github.com/lesfleursdelanuitdev/mycelia/internal/subsystem"
)

func bootKernel(t *testing.T) *MessageSystem {
	t.Helper()
	ms, err := New(context.Background(), &Config{
		Response: &response.Config{SweepInterval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })
	return ms
}

func registered(t *testing.T, ms *MessageSystem, name string) *subsystem.Subsystem {
	t.Helper()
	s, err := subsystem.New(subsystem.Config{Name: name})
	require.NoError(t, err)
	_, err = ms.RegisterSubsystem(context.Background(), s)
	require.NoError(t, err)
	return s
}

func awaitFuture(t *testing.T, f *request.Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func TestRegisterSubsystem_ReservedNameRejected(t *testing.T) {
	ms := bootKernel(t)
	s, err := subsystem.New(subsystem.Config{Name: Name})
	require.NoError(t, err)
	_, err = ms.RegisterSubsystem(context.Background(), s)
	require.ErrorIs(t, err, ErrNameReserved)
}

func TestRegisterSubsystem_DuplicateRejected(t *testing.T) {
	ms := bootKernel(t)
	registered(t, ms, "A")
	dup, err := subsystem.New(subsystem.Config{Name: "A"})
	require.NoError(t, err)
	_, err = ms.RegisterSubsystem(context.Background(), dup)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegisterSubsystem_AttachesIdentity(t *testing.T) {
	ms := bootKernel(t)
	s := registered(t, ms, "A")

	pkr := s.PKR()
	require.NotEmpty(t, pkr.UUID)
	require.False(t, ms.IsKernel(pkr))
	require.True(t, ms.AccessControl().Has(pkr.UUID))
}

func TestFind_KernelHidden(t *testing.T) {
	ms := bootKernel(t)
	_, exists := ms.Find(Name)
	require.False(t, exists)
	require.NotContains(t, ms.Subsystems(), Name)
}

// Scenario: one-shot request/response round trip. The reply resolves
// the future, the temporary route disappears, and no timer fires
// afterwards.
func TestOneShot_RoundTrip(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	b := registered(t, ms, "B")

	require.NoError(t, a.RegisterRoute("A://echo/{n}", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		rr := msg.Meta.ResponseRequired
		require.NotNil(t, rr)
		factory, _ := a.Messages()
		reply := factory.New(rr.ReplyTo,
			map[string]any{"ok": true, "n": routing.Param(ctx, "n")},
			message.WithInReplyTo(msg.ID))
		replyOpts := message.NewOptions()
		replyOpts.SetIsResponse(true)
		_, err := a.Send(ctx, reply, replyOpts)
		return nil, err
	}, routing.Metadata{}))

	factory, _ := b.Messages()
	requests, _ := b.Requests()
	msg := factory.New("A://echo/42", nil)

	future := requests.Request(context.Background(), msg, request.OneShotOptions{TimeoutMillis: 1000})
	result, err := awaitFuture(t, future)
	require.NoError(t, err)

	reply := result.(*message.Message)
	require.Equal(t, map[string]any{"ok": true, "n": "42"}, reply.Body)

	router, _ := b.RouterFacet()
	require.False(t, router.Has(request.OneShotPath("B", msg.ID)),
		"temporary reply route must be gone after resolution")
}

// Scenario: one-shot timeout. The target never replies; the future
// fails with TimedOut and the temporary route is cleaned up.
func TestOneShot_Timeout(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	b := registered(t, ms, "B")

	require.NoError(t, a.RegisterRoute("A://silent", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return nil, nil
	}, routing.Metadata{}))

	factory, _ := b.Messages()
	requests, _ := b.Requests()
	msg := factory.New("A://silent", nil)

	future := requests.Request(context.Background(), msg, request.OneShotOptions{TimeoutMillis: 30})
	_, err := awaitFuture(t, future)

	var timedOut *request.TimedOutError
	require.ErrorAs(t, err, &timedOut)
	require.Equal(t, int64(30), timedOut.Millis)

	router, _ := b.RouterFacet()
	require.False(t, router.Has(request.OneShotPath("B", msg.ID)))
}

// Scenario: command over a channel with a kernel-synthesized timeout.
// A never replies; the response manager emits the synthetic failure to
// the reply channel, whose handler forwards it to the command
// coordinator.
func TestCommand_SyntheticTimeoutResolvesFuture(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	b := registered(t, ms, "B")

	require.NoError(t, a.RegisterRoute("A://task/run", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return nil, nil // never replies
	}, routing.Metadata{}))

	// B owns the reply channel; A participates.
	channels, _ := b.Channels()
	require.NoError(t, channels.Create("B://ch/replies", nil))
	require.NoError(t, channels.Invite("B://ch/replies", a.PKR()))

	bridge, _ := b.Responses()
	require.NoError(t, b.RegisterRoute("B://ch/replies", bridge.Handler(), routing.Metadata{}))

	factory, _ := b.Messages()
	commands, _ := b.Commands()
	msg := factory.New("A://task/run", nil)

	future, err := commands.Send(context.Background(), msg, "B://ch/replies", 50)
	require.NoError(t, err)

	result, err := awaitFuture(t, future)
	require.NoError(t, err, "command timeout resolves, it does not throw")

	synthetic := result.(*message.Message)
	require.True(t, synthetic.Meta.IsResponse)
	require.Equal(t, msg.ID, synthetic.Meta.InReplyTo)
	body := synthetic.Body.(map[string]any)
	require.Equal(t, false, body["success"])
	require.Equal(t, "timeout", body["error"])
}

// Scenario: a real reply over the channel resolves the command before
// any timeout.
func TestCommand_ChannelReplyRoundTrip(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	b := registered(t, ms, "B")

	require.NoError(t, a.RegisterRoute("A://task/run", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		rr := msg.Meta.ResponseRequired
		factory, _ := a.Messages()
		reply := factory.New(rr.ReplyTo, map[string]any{"done": true}, message.WithInReplyTo(msg.ID))
		replyOpts := message.NewOptions()
		replyOpts.SetIsResponse(true)
		_, err := a.Send(ctx, reply, replyOpts)
		return nil, err
	}, routing.Metadata{}))

	channels, _ := b.Channels()
	require.NoError(t, channels.Create("B://ch/replies", nil))
	require.NoError(t, channels.Invite("B://ch/replies", a.PKR()))

	bridge, _ := b.Responses()
	require.NoError(t, b.RegisterRoute("B://ch/replies", bridge.Handler(), routing.Metadata{}))

	factory, _ := b.Messages()
	commands, _ := b.Commands()
	msg := factory.New("A://task/run", nil)

	future, err := commands.Send(context.Background(), msg, "B://ch/replies", 5000)
	require.NoError(t, err)

	result, err := awaitFuture(t, future)
	require.NoError(t, err)
	reply := result.(*message.Message)
	require.Equal(t, map[string]any{"done": true}, reply.Body)
}

// Channel ACL: an outsider addressing someone else's channel is
// rejected; the owner and participants pass.
func TestSendProtected_ChannelACLEnforced(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	b := registered(t, ms, "B")
	c := registered(t, ms, "C")

	channels, _ := b.Channels()
	require.NoError(t, channels.Create("B://ch/replies", nil))
	require.NoError(t, channels.Invite("B://ch/replies", a.PKR()))

	received := 0
	require.NoError(t, b.RegisterRoute("B://ch/replies", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		received++
		return nil, nil
	}, routing.Metadata{}))

	factory, _ := c.Messages()

	// Outsider C is rejected.
	_, err := ms.SendProtected(context.Background(), c.PKR(), factory.New("B://ch/replies", nil), nil)
	require.ErrorContains(t, err, "unauthorized channel use")
	require.Equal(t, 0, received)

	// Participant A passes.
	_, err = ms.SendProtected(context.Background(), a.PKR(), factory.New("B://ch/replies", nil), nil)
	require.NoError(t, err)

	// Owner B passes.
	_, err = ms.SendProtected(context.Background(), b.PKR(), factory.New("B://ch/replies", nil), nil)
	require.NoError(t, err)
	require.Equal(t, 2, received)
}

// Scenario: permission denial. The caller holds read but the route
// demands write; the handler never runs.
func TestSendProtected_PermissionDenied(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	registered(t, ms, "B")

	callerPKR, err := ms.AccessControl().CreatePrincipal(identity.KindFriend, identity.CreateOptions{Name: "C"})
	require.NoError(t, err)
	require.NoError(t, ms.Permissions().Grant(a.PKR(), a.PKR(), callerPKR, identity.LevelRead))

	ran := false
	require.NoError(t, a.RegisterRoute("A://secure/update", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		ran = true
		return nil, nil
	}, routing.Metadata{Required: "write"}))

	factory := ms.Factory()
	_, err = ms.SendProtected(context.Background(), callerPKR, factory.New("A://secure/update", nil), nil)
	require.True(t, identity.IsPermissionDenied(err))
	require.ErrorContains(t, err, "write access required")
	require.False(t, ran)

	// With write granted the handler runs.
	require.NoError(t, ms.Permissions().Grant(a.PKR(), a.PKR(), callerPKR, identity.LevelReadWrite))
	_, err = ms.SendProtected(context.Background(), callerPKR, factory.New("A://secure/update", nil), nil)
	require.NoError(t, err)
	require.True(t, ran)
}

// Scenario: anti-spoof. Caller-supplied identity fields are discarded;
// the handler observes the authenticated caller and no setBy field.
func TestSendProtected_AntiSpoof(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	c := registered(t, ms, "C")

	var seen *message.Options
	require.NoError(t, a.RegisterRoute("A://inspect", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		seen = opts
		return nil, nil
	}, routing.Metadata{}))

	spoofed := message.NewOptions()
	spoofed.SetCallerIdentity(ms.KernelPKR(), ms.KernelPKR())

	factory, _ := c.Messages()
	_, err := ms.SendProtected(context.Background(), c.PKR(), factory.New("A://inspect", nil), spoofed)
	require.NoError(t, err)

	require.Equal(t, c.PKR().UUID, seen.CallerID().UUID, "spoofed callerId must be discarded")
	require.False(t, seen.HasCallerIDSetBy())
	require.True(t, seen.Frozen())

	// The caller's own options object is untouched.
	require.Equal(t, ms.KernelPKR().UUID, spoofed.CallerID().UUID)
}

func TestSendProtected_MissingCallerRejected(t *testing.T) {
	ms := bootKernel(t)
	factory := ms.Factory()
	_, err := ms.SendProtected(context.Background(), identity.PKR{}, factory.New("A://x", nil), nil)
	require.ErrorIs(t, err, ErrMissingCaller)
}

func TestSendProtected_UnknownSubsystemFails(t *testing.T) {
	ms := bootKernel(t)
	factory := ms.Factory()
	_, err := ms.SendProtected(context.Background(), ms.KernelPKR(), factory.New("ghost://x", nil), nil)
	require.ErrorIs(t, err, routing.ErrRouteNotFound)
}

// Nested children are reached by descending the path through the
// subsystem tree.
func TestRoute_DescendsIntoChildren(t *testing.T) {
	ms := bootKernel(t)

	parent, err := subsystem.New(subsystem.Config{Name: "store"})
	require.NoError(t, err)
	child, err := subsystem.New(subsystem.Config{Name: "index"})
	require.NoError(t, err)
	require.NoError(t, parent.AddChild(child))
	require.NoError(t, child.Build(context.Background()))

	_, err = ms.RegisterSubsystem(context.Background(), parent)
	require.NoError(t, err)

	require.NoError(t, child.RegisterRoute("store://index/lookup/{key}", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return "key=" + routing.Param(ctx, "key"), nil
	}, routing.Metadata{}))

	factory := ms.Factory()
	result, err := ms.SendProtected(context.Background(), ms.KernelPKR(), factory.New("store://index/lookup/k1", nil), nil)
	require.NoError(t, err)
	require.Equal(t, "key=k1", result)
}

// The identity wrapper produces guarded handlers and sends under its
// own PKR.
func TestIdentityWrapper_RequireAuthAndSendProtected(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")
	c := registered(t, ms, "C")

	id, bound := a.Identity()
	require.True(t, bound)

	ran := false
	guarded := id.RequireAuth("read", "", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		ran = true
		return "ok", nil
	})
	require.NoError(t, a.RegisterRoute("A://guarded/read", guarded, routing.Metadata{}))

	factory, _ := c.Messages()
	cid, _ := c.Identity()

	_, err := cid.SendProtected(context.Background(), factory.New("A://guarded/read", nil), nil)
	require.True(t, identity.IsPermissionDenied(err))
	require.False(t, ran)

	require.NoError(t, ms.Permissions().Grant(a.PKR(), a.PKR(), c.PKR(), identity.LevelRead))
	result, err := cid.SendProtected(context.Background(), factory.New("A://guarded/read", nil), nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.True(t, ran)
}

// Key rotation: the registry forgets the old PKR and the subsystem's
// identity wrapper observes the new one.
func TestRefreshPrincipal_SubsystemObservesNewPKR(t *testing.T) {
	ms := bootKernel(t)
	a := registered(t, ms, "A")

	oldPKR := a.PKR()
	newPKR, err := ms.AccessControl().RefreshPrincipal(oldPKR)
	require.NoError(t, err)

	require.Equal(t, newPKR.UUID, a.PKR().UUID)
	require.False(t, ms.AccessControl().Has(oldPKR.UUID))
	require.True(t, ms.AccessControl().Has(newPKR.UUID))
}
