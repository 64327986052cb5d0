// Package request implements the two request/response flavors a
// subsystem can originate: one-shot requests over a temporary reply
// route with a local timeout, and commands over a persistent channel
// with kernel-tracked correlation.
package request

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
)

// Registrar is the slice of the subsystem router the coordinator needs
// for temporary reply routes.
type Registrar interface {
	Register(pattern string, handler routing.Handler, meta routing.Metadata) error
	Unregister(pattern string) error
}

// SendFunc dispatches a message through the kernel on behalf of the
// owning subsystem.
type SendFunc func(ctx context.Context, msg *message.Message, opts *message.Options) (any, error)

// OneShotOptions configures a single request.
type OneShotOptions struct {
	// TimeoutMillis arms the local timer; zero disables it.
	TimeoutMillis int64
	// ReplyPath overrides the generated one-shot route.
	ReplyPath string
	// Handler post-processes the reply; its return value resolves the
	// future. Nil resolves with the reply message itself.
	Handler func(reply *message.Message) (any, error)
}

// OneShotPath builds the canonical temporary reply route for a message.
func OneShotPath(subsystem, messageID string) string {
	return fmt.Sprintf("%s://request/oneShot/%s", subsystem, messageID)
}

// OneShot coordinates temporary-route requests for one subsystem.
type OneShot struct {
	subsystem string
	routes    Registrar
	send      SendFunc
}

// NewOneShot creates a coordinator bound to the subsystem's router and
// the kernel send path.
func NewOneShot(subsystem string, routes Registrar, send SendFunc) *OneShot {
	return &OneShot{subsystem: subsystem, routes: routes, send: send}
}

// Request registers a temporary reply route for msg, stamps the
// response request into its metadata, dispatches it, and returns the
// pending future. Cleanup (route removal and timer stop) runs exactly
// once, on whichever of reply, timeout, or failure comes first.
func (o *OneShot) Request(ctx context.Context, msg *message.Message, opts OneShotOptions) *Future {
	future := NewFuture()

	replyPath := opts.ReplyPath
	if replyPath == "" {
		replyPath = OneShotPath(o.subsystem, msg.ID)
	}

	var timer *time.Timer
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			if err := o.routes.Unregister(replyPath); err != nil {
				log.Warn(log.CatRequest, "one-shot route cleanup failed",
					"path", replyPath, "error", err)
			}
			if timer != nil {
				timer.Stop()
			}
		})
	}

	replyHandler := func(hctx context.Context, reply *message.Message, _ *message.Options) (any, error) {
		cleanup()
		value := any(reply)
		if opts.Handler != nil {
			v, err := opts.Handler(reply)
			if err != nil {
				future.complete(nil, err)
				return nil, err
			}
			value = v
		}
		future.complete(value, nil)
		return value, nil
	}

	if err := o.routes.Register(replyPath, replyHandler, routing.Metadata{
		Description: "one-shot reply route",
	}); err != nil {
		future.complete(nil, &RouteRegistrationFailedError{Cause: err})
		return future
	}

	msg.Meta.ResponseRequired = &message.ResponseRequired{
		ReplyTo:       replyPath,
		TimeoutMillis: opts.TimeoutMillis,
	}

	if opts.TimeoutMillis > 0 {
		timer = time.AfterFunc(time.Duration(opts.TimeoutMillis)*time.Millisecond, func() {
			cleanup()
			future.complete(nil, &TimedOutError{Millis: opts.TimeoutMillis})
		})
	}

	if _, err := o.send(ctx, msg, message.NewOptions()); err != nil {
		cleanup()
		future.complete(nil, &SendFailedError{Cause: err})
		return future
	}

	return future
}
