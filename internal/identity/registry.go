package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory principal store. It is keyed by UUID with
// secondary indexes by name and public key, and is the only holder of
// private keys.
type Registry struct {
	mu         sync.RWMutex
	principals map[string]*Principal // uuid -> principal
	byName     map[string]string     // name -> uuid
	byKey      map[string]string     // string(publicKey) -> uuid

	kernelUUID string

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewRegistry creates an empty principal registry.
func NewRegistry() *Registry {
	return &Registry{
		principals: make(map[string]*Principal),
		byName:     make(map[string]string),
		byKey:      make(map[string]string),
		now:        time.Now,
	}
}

// Mint generates a fresh keypair without registering anything.
// Exposed so hosts can pre-stage keys for external friends.
func (r *Registry) Mint() (KeyPair, error) {
	return mintKeys()
}

// CreatePrincipal mints keys, stores a new principal, and returns its PKR.
// The kernel principal can be created exactly once.
func (r *Registry) CreatePrincipal(kind Kind, opts CreateOptions) (PKR, error) {
	keys, err := mintKeys()
	if err != nil {
		return PKR{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == KindKernel && r.kernelUUID != "" {
		return PKR{}, ErrKernelExists
	}
	if opts.Name != "" {
		if _, taken := r.byName[opts.Name]; taken {
			return PKR{}, fmt.Errorf("principal name already registered: %s", opts.Name)
		}
	}

	id := uuid.New().String()
	pkr := PKR{UUID: id, PublicKey: keys.PublicKey}
	if opts.ExpiresIn > 0 {
		exp := r.now().Add(opts.ExpiresIn)
		pkr.ExpiresAt = &exp
	}

	p := &Principal{
		UUID:       id,
		Kind:       kind,
		Name:       opts.Name,
		Metadata:   opts.Metadata,
		PublicKey:  keys.PublicKey,
		CreatedAt:  r.now(),
		privateKey: keys.PrivateKey,
		pkr:        pkr,
		instance:   opts.Instance,
	}
	if opts.Owner != nil {
		p.OwnerUUID = opts.Owner.UUID
	}

	r.principals[id] = p
	if p.Name != "" {
		r.byName[p.Name] = id
	}
	r.byKey[string(p.PublicKey)] = id
	if kind == KindKernel {
		r.kernelUUID = id
	}

	return pkr, nil
}

// ResolvePKR returns the private key for a registered, unexpired PKR.
// The key material must not be retained by callers.
func (r *Registry) ResolvePKR(pkr PKR) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.principals[pkr.UUID]
	if !exists || string(p.PublicKey) != string(pkr.PublicKey) {
		return nil, ErrUnknownPrincipal
	}
	if !pkr.Valid(r.now()) {
		return nil, ErrExpiredPKR
	}
	return p.privateKey, nil
}

// RefreshPrincipal rotates the principal's keys and reissues its PKR
// under a new UUID. All indexes and the attached instance are updated
// atomically; the old UUID is forgotten.
func (r *Registry) RefreshPrincipal(pkr PKR) (PKR, error) {
	keys, err := mintKeys()
	if err != nil {
		return PKR{}, err
	}

	r.mu.Lock()
	p, exists := r.principals[pkr.UUID]
	if !exists {
		r.mu.Unlock()
		return PKR{}, ErrUnknownPrincipal
	}

	oldUUID, oldKey := p.UUID, p.PublicKey
	newUUID := uuid.New().String()

	newPKR := PKR{UUID: newUUID, PublicKey: keys.PublicKey}
	// Refresh does not extend the expiry horizon.
	newPKR.ExpiresAt = p.pkr.ExpiresAt

	delete(r.principals, oldUUID)
	delete(r.byKey, string(oldKey))

	p.UUID = newUUID
	p.PublicKey = keys.PublicKey
	p.privateKey = keys.PrivateKey
	p.pkr = newPKR

	r.principals[newUUID] = p
	if p.Name != "" {
		r.byName[p.Name] = newUUID
	}
	r.byKey[string(keys.PublicKey)] = newUUID
	if r.kernelUUID == oldUUID {
		r.kernelUUID = newUUID
	}
	instance := p.instance
	r.mu.Unlock()

	// Notify outside the lock; the instance may call back into the
	// registry.
	if instance != nil {
		instance.IdentityRefreshed(newPKR)
	}
	return newPKR, nil
}

// Get returns the principal for a UUID.
func (r *Registry) Get(uuid string) (*Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.principals[uuid]
	return p, exists
}

// GetByName returns the principal registered under name.
func (r *Registry) GetByName(name string) (*Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, exists := r.byName[name]
	if !exists {
		return nil, false
	}
	return r.principals[id], true
}

// Has reports whether a principal with the UUID exists.
func (r *Registry) Has(uuid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.principals[uuid]
	return exists
}

// List returns all principals. The slice is a fresh copy; the pointed-to
// principals are shared and must be treated as read-only.
func (r *Registry) List() []*Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Principal, 0, len(r.principals))
	for _, p := range r.principals {
		out = append(out, p)
	}
	return out
}

// SetInstance binds the back-reference notified on key rotation.
// Used when the instance only exists after the principal is minted.
func (r *Registry) SetInstance(uuid string, instance Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.principals[uuid]
	if !exists {
		return ErrUnknownPrincipal
	}
	p.instance = instance
	return nil
}

// ListByOwner returns the principals created under owner.
func (r *Registry) ListByOwner(owner PKR) []*Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Principal
	for _, p := range r.principals {
		if p.OwnerUUID != "" && p.OwnerUUID == owner.UUID {
			out = append(out, p)
		}
	}
	return out
}

// IsKernel reports whether the PKR belongs to the kernel principal.
func (r *Registry) IsKernel(pkr PKR) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kernelUUID != "" && pkr.UUID == r.kernelUUID
}

// KernelPKR returns the kernel principal's PKR, if one exists.
func (r *Registry) KernelPKR() (PKR, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.kernelUUID == "" {
		return PKR{}, false
	}
	return r.principals[r.kernelUUID].pkr, true
}
