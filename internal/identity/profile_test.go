package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfile_ScopeAllowsAppliedProfile(t *testing.T) {
	r := NewRegistry()
	caller, err := r.CreatePrincipal(KindTopLevel, CreateOptions{Name: "C"})
	require.NoError(t, err)

	profiles := NewProfileRegistry()
	rw := LevelReadWrite
	require.NoError(t, profiles.Define(Profile{
		Name:   "operator",
		Scopes: map[string]*Level{"tasks": &rw, "audit": nil},
	}))

	// Nothing applied yet.
	require.False(t, profiles.ScopeAllows(caller, "tasks", LevelRead))

	require.NoError(t, profiles.Apply("operator", caller))
	require.True(t, profiles.ScopeAllows(caller, "tasks", LevelRead))
	require.True(t, profiles.ScopeAllows(caller, "tasks", LevelReadWrite))
	require.False(t, profiles.ScopeAllows(caller, "tasks", LevelReadWriteGrant))

	// A nil scope level denies.
	require.False(t, profiles.ScopeAllows(caller, "audit", LevelRead))
	// An absent scope denies.
	require.False(t, profiles.ScopeAllows(caller, "other", LevelRead))
}

func TestProfile_ApplyUnknownProfileFails(t *testing.T) {
	profiles := NewProfileRegistry()
	require.Error(t, profiles.Apply("ghost", PKR{UUID: "u"}))
}

func TestProfile_HostResolverOverridesAppliedTable(t *testing.T) {
	profiles := NewProfileRegistry()
	r := LevelRead
	require.NoError(t, profiles.Define(Profile{
		Name:   "reader",
		Scopes: map[string]*Level{"docs": &r},
	}))

	caller := PKR{UUID: "caller-uuid", PublicKey: []byte("k")}
	profiles.SetResolver(func(pkr PKR) (string, bool) {
		if pkr.UUID == caller.UUID {
			return "reader", true
		}
		return "", false
	})

	require.True(t, profiles.ScopeAllows(caller, "docs", LevelRead))
	require.False(t, profiles.ScopeAllows(PKR{UUID: "other"}, "docs", LevelRead))
}
