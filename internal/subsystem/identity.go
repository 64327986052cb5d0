package subsystem

import (
	"context"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// Identity is the per-subsystem capability wrapper around a principal:
// it tracks the current PKR across key rotation, produces
// permission-wrapped handlers, and forwards sends to the kernel under
// its own identity.
type Identity struct {
	mu     sync.RWMutex
	pkr    identity.PKR
	kernel Kernel
}

// NewIdentity creates a wrapper for pkr bound to the kernel.
func NewIdentity(pkr identity.PKR, k Kernel) *Identity {
	return &Identity{pkr: pkr, kernel: k}
}

// PKR returns the current public key record.
func (id *Identity) PKR() identity.PKR {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.pkr
}

// IdentityRefreshed updates the wrapper after key rotation.
// Implements identity.Instance; the registry calls it during
// RefreshPrincipal.
func (id *Identity) IdentityRefreshed(pkr identity.PKR) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.pkr = pkr
}

// RequireAuth wraps handler so invocation demands the given level
// ("read", "write", or "grant") on this identity's permission set,
// plus the optional scope.
func (id *Identity) RequireAuth(level, scope string, handler routing.Handler) routing.Handler {
	guard := &routing.Guard{
		Owner: id.PKR,
		IsKernel: func(pkr identity.PKR) bool {
			return id.kernel != nil && id.kernel.IsKernel(pkr)
		},
		Permissions: id.kernel.Permissions(),
		Profiles:    id.kernel.Profiles(),
	}
	return routing.RequireAuth(guard, level, scope, handler)
}

// SendProtected forwards to the kernel's privileged send using this
// wrapper's PKR as the caller.
func (id *Identity) SendProtected(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
	return id.kernel.SendProtected(ctx, id.PKR(), msg, opts)
}
