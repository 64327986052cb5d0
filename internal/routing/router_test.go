package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

func noopHandler(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	return nil, nil
}

func namedHandler(name string) Handler {
	return func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return name, nil
	}
}

func TestRegister_DuplicatePatternFails(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://x", noopHandler, Metadata{}))

	err := r.Register("A://x", noopHandler, Metadata{})
	require.ErrorIs(t, err, ErrDuplicateRoute)
}

func TestRegister_NilHandlerFails(t *testing.T) {
	r := NewRouter(nil)
	require.Error(t, r.Register("A://x", nil, Metadata{}))
}

func TestUnregister_AbsentPatternFails(t *testing.T) {
	r := NewRouter(nil)
	require.ErrorIs(t, r.Unregister("A://x"), ErrRouteNotFound)
}

func TestRegisterUnregister_IsIdentityOnTable(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://x", noopHandler, Metadata{}))
	require.NoError(t, r.Unregister("A://x"))
	require.False(t, r.Has("A://x"))
	require.Empty(t, r.Entries())
}

func TestMatch_NoRoutesFails(t *testing.T) {
	r := NewRouter(nil)
	_, _, err := r.Match("A://missing")
	require.ErrorIs(t, err, ErrRouteNotFound)
}

func TestMatch_ParameterCapture(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://echo/{n}", noopHandler, Metadata{}))

	entry, params, err := r.Match("A://echo/42")
	require.NoError(t, err)
	require.Equal(t, "A://echo/{n}", entry.Pattern)
	require.Equal(t, "42", params["n"])
}

func TestMatch_ParameterDoesNotCrossSegments(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://echo/{n}", noopHandler, Metadata{}))

	_, _, err := r.Match("A://echo/4/2")
	require.ErrorIs(t, err, ErrRouteNotFound)
}

func TestMatch_WildcardCrossesSegments(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://x/*", noopHandler, Metadata{}))

	entry, _, err := r.Match("A://x/a/b/c")
	require.NoError(t, err)
	require.Equal(t, "A://x/*", entry.Pattern)
}

// Longest-pattern-wins selection over wildcard, parameter, and literal
// patterns.
func TestMatch_LongestPatternWins(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://x/*", namedHandler("wild"), Metadata{}))
	require.NoError(t, r.Register("A://x/{id}", namedHandler("param"), Metadata{}))
	require.NoError(t, r.Register("A://x/{id}/p", namedHandler("nested"), Metadata{}))

	entry, _, err := r.Match("A://x/7/p")
	require.NoError(t, err)
	require.Equal(t, "A://x/{id}/p", entry.Pattern)

	entry, _, err = r.Match("A://x/7")
	require.NoError(t, err)
	require.Equal(t, "A://x/{id}", entry.Pattern)

	entry, _, err = r.Match("A://x/7/q/r")
	require.NoError(t, err)
	require.Equal(t, "A://x/*", entry.Pattern)
}

func TestMatch_EqualLengthTieBreaksByRegistrationOrder(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://t/{ab}", namedHandler("first"), Metadata{}))
	require.NoError(t, r.Register("A://t/{xy}", namedHandler("second"), Metadata{}))

	entry, _, err := r.Match("A://t/v")
	require.NoError(t, err)
	require.Equal(t, "A://t/{ab}", entry.Pattern)
}

func TestMatch_CacheInvalidatedOnRegister(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://x/*", noopHandler, Metadata{}))

	entry, _, err := r.Match("A://x/7")
	require.NoError(t, err)
	require.Equal(t, "A://x/*", entry.Pattern)
	require.Equal(t, 1, r.CacheLen())

	// A longer pattern registered later must win immediately.
	require.NoError(t, r.Register("A://x/{id}", noopHandler, Metadata{}))
	require.Equal(t, 0, r.CacheLen())

	entry, _, err = r.Match("A://x/7")
	require.NoError(t, err)
	require.Equal(t, "A://x/{id}", entry.Pattern)
}

func TestMatch_CacheEvictsLeastRecentlyUsed(t *testing.T) {
	r := NewRouter(&Config{CacheCapacity: 2})
	require.NoError(t, r.Register("A://x/{id}", noopHandler, Metadata{}))

	for _, path := range []string{"A://x/1", "A://x/2", "A://x/3"} {
		_, _, err := r.Match(path)
		require.NoError(t, err)
	}
	require.Equal(t, 2, r.CacheLen())
	// The first path was used least recently, so it is the one evicted.
	require.NotContains(t, r.cache.byPath, "A://x/1")
	require.Contains(t, r.cache.byPath, "A://x/2")
	require.Contains(t, r.cache.byPath, "A://x/3")
}

func TestRoute_HandlerErrorPropagates(t *testing.T) {
	r := NewRouter(nil)
	boom := errors.New("boom")
	require.NoError(t, r.Register("A://fail", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return nil, boom
	}, Metadata{}))

	msg := &message.Message{ID: "m1", Path: "A://fail"}
	_, err := r.Route(context.Background(), msg, nil)
	require.ErrorIs(t, err, boom)
}

func TestRoute_ParamsReachHandlerViaContext(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.Register("A://echo/{n}", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		return Param(ctx, "n"), nil
	}, Metadata{}))

	msg := &message.Message{ID: "m1", Path: "A://echo/42"}
	result, err := r.Route(context.Background(), msg, nil)
	require.NoError(t, err)
	require.Equal(t, "42", result)
}

func TestRoute_HandlerSeesFrozenOptionsWithoutSetBy(t *testing.T) {
	registry := identity.NewRegistry()
	kernelPKR, err := registry.CreatePrincipal(identity.KindKernel, identity.CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	callerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "caller"})
	require.NoError(t, err)

	r := NewRouter(nil)
	var seen *message.Options
	require.NoError(t, r.Register("A://open", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		seen = opts
		return nil, nil
	}, Metadata{}))

	opts := message.NewOptions()
	opts.SetCallerIdentity(callerPKR, kernelPKR)
	opts.Freeze()

	_, err = r.Route(context.Background(), &message.Message{ID: "m1", Path: "A://open"}, opts)
	require.NoError(t, err)
	require.True(t, seen.Frozen())
	require.Equal(t, callerPKR.UUID, seen.CallerID().UUID)
	require.False(t, seen.HasCallerIDSetBy())
}

func guardFor(t *testing.T, registry *identity.Registry, owner identity.PKR) (*Guard, *identity.ReaderWriterSet) {
	t.Helper()
	rws := identity.NewReaderWriterSet(registry)
	return &Guard{
		Owner:       func() identity.PKR { return owner },
		IsKernel:    registry.IsKernel,
		Permissions: rws,
	}, rws
}

func TestRoute_GuardedRouteDeniesWithoutKernelStamp(t *testing.T) {
	registry := identity.NewRegistry()
	ownerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "A"})
	require.NoError(t, err)
	callerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "C"})
	require.NoError(t, err)

	r := NewRouter(nil)
	guard, _ := guardFor(t, registry, ownerPKR)
	r.SetGuard(guard)

	ran := false
	require.NoError(t, r.Register("A://secure/update", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		ran = true
		return nil, nil
	}, Metadata{Required: "write"}))

	// callerIdSetBy stamped by a non-kernel principal.
	opts := message.NewOptions()
	opts.SetCallerIdentity(callerPKR, callerPKR)

	_, err = r.Route(context.Background(), &message.Message{ID: "m1", Path: "A://secure/update"}, opts)
	require.True(t, identity.IsPermissionDenied(err))
	require.Contains(t, err.Error(), "callerIdSetBy is not a kernel")
	require.False(t, ran)
}

func TestRoute_GuardedRouteDeniesInsufficientLevel(t *testing.T) {
	registry := identity.NewRegistry()
	kernelPKR, err := registry.CreatePrincipal(identity.KindKernel, identity.CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	ownerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "A"})
	require.NoError(t, err)
	callerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "C"})
	require.NoError(t, err)

	r := NewRouter(nil)
	guard, rws := guardFor(t, registry, ownerPKR)
	r.SetGuard(guard)
	require.NoError(t, rws.Grant(ownerPKR, ownerPKR, callerPKR, identity.LevelRead))

	ran := false
	require.NoError(t, r.Register("A://secure/update", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		ran = true
		return nil, nil
	}, Metadata{Required: "write"}))

	opts := message.NewOptions()
	opts.SetCallerIdentity(callerPKR, kernelPKR)

	_, err = r.Route(context.Background(), &message.Message{ID: "m1", Path: "A://secure/update"}, opts)
	require.True(t, identity.IsPermissionDenied(err))
	require.Contains(t, err.Error(), "write access required")
	require.False(t, ran)
}

func TestRoute_GuardedRouteAdmitsSufficientLevel(t *testing.T) {
	registry := identity.NewRegistry()
	kernelPKR, err := registry.CreatePrincipal(identity.KindKernel, identity.CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	ownerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "A"})
	require.NoError(t, err)
	callerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "C"})
	require.NoError(t, err)

	r := NewRouter(nil)
	guard, rws := guardFor(t, registry, ownerPKR)
	r.SetGuard(guard)
	require.NoError(t, rws.Grant(ownerPKR, ownerPKR, callerPKR, identity.LevelReadWrite))

	var seen *message.Options
	require.NoError(t, r.Register("A://secure/update", func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		seen = opts
		return "done", nil
	}, Metadata{Required: "write"}))

	opts := message.NewOptions()
	opts.SetCallerIdentity(callerPKR, kernelPKR)

	result, err := r.Route(context.Background(), &message.Message{ID: "m1", Path: "A://secure/update"}, opts)
	require.NoError(t, err)
	require.Equal(t, "done", result)
	require.Equal(t, callerPKR.UUID, seen.CallerID().UUID)
	require.False(t, seen.HasCallerIDSetBy())
}

func TestRoute_ScopedRouteConsultsProfiles(t *testing.T) {
	registry := identity.NewRegistry()
	kernelPKR, err := registry.CreatePrincipal(identity.KindKernel, identity.CreateOptions{Name: "kernel"})
	require.NoError(t, err)
	ownerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "A"})
	require.NoError(t, err)
	callerPKR, err := registry.CreatePrincipal(identity.KindTopLevel, identity.CreateOptions{Name: "C"})
	require.NoError(t, err)

	profiles := identity.NewProfileRegistry()
	write := identity.LevelReadWrite
	require.NoError(t, profiles.Define(identity.Profile{
		Name:   "operator",
		Scopes: map[string]*identity.Level{"tasks": &write},
	}))

	r := NewRouter(nil)
	guard, rws := guardFor(t, registry, ownerPKR)
	guard.Profiles = profiles
	r.SetGuard(guard)
	require.NoError(t, rws.Grant(ownerPKR, ownerPKR, callerPKR, identity.LevelReadWrite))

	require.NoError(t, r.Register("A://tasks/run", noopHandler, Metadata{Required: "write", Scope: "tasks"}))

	opts := message.NewOptions()
	opts.SetCallerIdentity(callerPKR, kernelPKR)

	// No profile applied yet: scope denies.
	_, err = r.Route(context.Background(), &message.Message{ID: "m1", Path: "A://tasks/run"}, opts)
	require.True(t, identity.IsPermissionDenied(err))

	require.NoError(t, profiles.Apply("operator", callerPKR))
	_, err = r.Route(context.Background(), &message.Message{ID: "m2", Path: "A://tasks/run"}, opts)
	require.NoError(t, err)
}

// Property-based tests using rapid

// Cache coherence: interleaved registrations, removals, and matches
// always return what a fresh, uncached scan would return.
func TestPropertyMatchAgreesWithUncachedScan(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRouter(&Config{CacheCapacity: 4})

		segments := []string{"a", "b", "{id}", "*"}
		var patterns []string

		steps := rapid.IntRange(1, 24).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0: // register
				depth := rapid.IntRange(1, 3).Draw(t, "depth")
				pattern := "S:/"
				for d := 0; d < depth; d++ {
					pattern += "/" + rapid.SampledFrom(segments).Draw(t, "seg")
				}
				if err := r.Register(pattern, noopHandler, Metadata{}); err == nil {
					patterns = append(patterns, pattern)
				}
			case 1: // unregister
				if len(patterns) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(patterns)-1).Draw(t, "idx")
				_ = r.Unregister(patterns[idx])
				patterns = append(patterns[:idx], patterns[idx+1:]...)
			case 2: // match and compare with fresh router
				pathDepth := rapid.IntRange(1, 3).Draw(t, "pathDepth")
				path := "S:/"
				for d := 0; d < pathDepth; d++ {
					path += "/" + rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "pseg")
				}

				fresh := NewRouter(&Config{CacheCapacity: 4})
				for _, p := range patterns {
					require.NoError(t, fresh.Register(p, noopHandler, Metadata{}))
				}

				gotEntry, _, gotErr := r.Match(path)
				wantEntry, _, wantErr := fresh.Match(path)
				if wantErr != nil {
					require.Error(t, gotErr)
					continue
				}
				require.NoError(t, gotErr)
				require.Equal(t, wantEntry.Pattern, gotEntry.Pattern,
					fmt.Sprintf("path %s diverged from uncached scan", path))
			}
		}
	})
}
