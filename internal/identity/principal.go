package identity

import "time"

// Kind classifies a principal.
type Kind string

const (
	KindTopLevel Kind = "TOP_LEVEL" // A registered top-level subsystem
	KindResource Kind = "RESOURCE"  // A user-level resource behind a subsystem
	KindFriend   Kind = "FRIEND"    // An external caller granted access
	KindKernel   Kind = "KERNEL"    // The distinguished kernel principal
)

// Instance is the back-reference a principal keeps to the subsystem or
// resource it identifies. The registry updates it on key rotation.
type Instance interface {
	// IdentityRefreshed is called after the principal's keys rotate.
	IdentityRefreshed(pkr PKR)
}

// Principal is an addressable identity known to the registry.
// The private key is held only here and is never copied out except
// through ResolvePKR.
type Principal struct {
	UUID      string
	Kind      Kind
	Name      string
	Metadata  map[string]any
	PublicKey []byte
	CreatedAt time.Time
	// OwnerUUID links resources and friends to the principal that
	// created them.
	OwnerUUID string

	privateKey []byte
	pkr        PKR
	instance   Instance
}

// PKR returns the principal's current public key record.
func (p *Principal) PKR() PKR {
	return p.pkr
}

// CreateOptions configures principal creation.
type CreateOptions struct {
	Name     string
	Metadata map[string]any
	Owner    *PKR
	Instance Instance
	// ExpiresIn, when positive, stamps the minted PKR with an expiry.
	ExpiresIn time.Duration
}
