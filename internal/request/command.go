package request

import (
	"context"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

// Command coordinates channel-reply requests for one subsystem. The
// kernel's response manager owns timeouts; the coordinator only maps
// correlation ids to futures and hands replies back to their callers.
type Command struct {
	mu       sync.Mutex
	pending  map[string]*Future // correlationID -> future
	send     SendFunc
	disposed bool
}

// NewCommand creates a command coordinator using the kernel send path.
func NewCommand(send SendFunc) *Command {
	return &Command{
		pending: make(map[string]*Future),
		send:    send,
	}
}

// Send dispatches msg as a command expecting a reply on the replyTo
// channel route. The message id is the correlation id. No local timer
// is armed; a kernel-synthesized timeout reply resolves the future as
// a failure message, not an error.
func (c *Command) Send(ctx context.Context, msg *message.Message, replyTo string, timeoutMillis int64) (*Future, error) {
	if replyTo == "" {
		return nil, fmt.Errorf("command requires a replyTo channel route")
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if _, exists := c.pending[msg.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("command already pending: %s", msg.ID)
	}
	future := NewFuture()
	c.pending[msg.ID] = future
	c.mu.Unlock()

	rr := &message.ResponseRequired{
		ReplyTo:       replyTo,
		TimeoutMillis: timeoutMillis,
	}
	msg.Meta.ResponseRequired = rr
	opts := message.NewOptions()
	opts.SetResponseRequired(rr)

	if _, err := c.send(ctx, msg, opts); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return nil, &SendFailedError{Cause: err}
	}
	return future, nil
}

// HandleCommandReply resolves the pending future a reply corresponds
// to. Wire this as (or from) the handler on the replyTo channel route.
// Unmatched replies are dropped with a warning.
func (c *Command) HandleCommandReply(msg *message.Message) bool {
	cid := msg.CorrelationID()
	if cid == "" {
		log.Warn(log.CatRequest, "command reply carries no correlation id", "path", msg.Path)
		return false
	}

	c.mu.Lock()
	future, exists := c.pending[cid]
	if exists {
		delete(c.pending, cid)
	}
	c.mu.Unlock()

	if !exists {
		log.Warn(log.CatRequest, "unmatched command reply dropped", "correlationId", cid)
		return false
	}
	future.complete(msg, nil)
	return true
}

// PendingCount returns the number of unresolved commands.
func (c *Command) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispose rejects every pending future with ErrDisposed and blocks
// further sends.
func (c *Command) Dispose() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*Future)
	c.disposed = true
	c.mu.Unlock()

	for _, future := range pending {
		future.complete(nil, ErrDisposed)
	}
}
