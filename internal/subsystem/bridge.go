package subsystem

import (
	"context"

	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/request"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// ResponseBridge forwards reply messages arriving on a channel route
// to the subsystem's command coordinator. Install its Handler on the
// channel's route.
type ResponseBridge struct {
	commands *request.Command
}

// NewResponseBridge creates a bridge over the command coordinator.
func NewResponseBridge(commands *request.Command) *ResponseBridge {
	return &ResponseBridge{commands: commands}
}

// Handle resolves the pending command a reply corresponds to.
func (b *ResponseBridge) Handle(msg *message.Message) bool {
	return b.commands.HandleCommandReply(msg)
}

// Handler adapts the bridge to a route handler for a reply channel.
func (b *ResponseBridge) Handler() routing.Handler {
	return func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error) {
		b.Handle(msg)
		return nil, nil
	}
}
