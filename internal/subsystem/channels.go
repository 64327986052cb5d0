package subsystem

import (
	"fmt"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
)

// ChannelOps is the kernel surface the channel client uses. The kernel
// implements it over its channel manager.
type ChannelOps interface {
	CreateChannel(route string, owner identity.PKR, metadata map[string]any) error
	JoinChannel(route string, caller, participant identity.PKR) error
	LeaveChannel(route string, caller, participant identity.PKR) error
}

// ChannelClient is the per-subsystem view of the kernel's channel
// registry. Operations run under the subsystem's identity.
type ChannelClient struct {
	owner *Subsystem
}

// NewChannelClient creates the channel facet value for s.
func NewChannelClient(s *Subsystem) *ChannelClient {
	return &ChannelClient{owner: s}
}

func (c *ChannelClient) ops() (ChannelOps, identity.PKR, error) {
	c.owner.mu.RLock()
	k := c.owner.kernel
	c.owner.mu.RUnlock()
	ops, ok := k.(ChannelOps)
	if k == nil || !ok {
		return nil, identity.PKR{}, fmt.Errorf("subsystem %s is not registered with a kernel", c.owner.name)
	}
	pkr := c.owner.PKR()
	if pkr.IsZero() {
		return nil, identity.PKR{}, fmt.Errorf("subsystem %s has no identity", c.owner.name)
	}
	return ops, pkr, nil
}

// Create registers a channel route owned by this subsystem.
func (c *ChannelClient) Create(route string, metadata map[string]any) error {
	ops, pkr, err := c.ops()
	if err != nil {
		return err
	}
	return ops.CreateChannel(route, pkr, metadata)
}

// Invite grants a participant access to a channel this subsystem owns.
func (c *ChannelClient) Invite(route string, participant identity.PKR) error {
	ops, pkr, err := c.ops()
	if err != nil {
		return err
	}
	return ops.JoinChannel(route, pkr, participant)
}

// Remove revokes a participant from a channel this subsystem owns.
func (c *ChannelClient) Remove(route string, participant identity.PKR) error {
	ops, pkr, err := c.ops()
	if err != nil {
		return err
	}
	return ops.LeaveChannel(route, pkr, participant)
}
