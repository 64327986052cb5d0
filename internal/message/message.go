// Package message defines the bus envelope: an immutable message value
// carrying a hierarchical path, an opaque body, and routing metadata,
// plus the send options that accompany a message through the kernel.
package message

import (
	"fmt"

	"github.com/google/uuid"
)

// ResponseRequired asks the kernel (or the one-shot coordinator) to
// track a reply for this message.
type ResponseRequired struct {
	// ReplyTo is the path replies are addressed to.
	ReplyTo string
	// TimeoutMillis, when positive, bounds the wait. Zero means no
	// deadline.
	TimeoutMillis int64
}

// Meta is the routing metadata of a message. It is mutable at creation
// time only; once the message is dispatched it must be treated as
// read-only.
type Meta struct {
	// Subsystem is the originating subsystem name.
	Subsystem string
	// CorrelationID links this message to a request it answers.
	CorrelationID string
	// InReplyTo is the id of the message being answered.
	InReplyTo string
	// ReplyFor is a legacy alias for InReplyTo, honored last during
	// correlation extraction.
	ReplyFor string
	// IsResponse marks reply messages.
	IsResponse bool
	// Success carries the outcome flag on response messages.
	Success *bool
	// ResponseRequired, when set, names the reply route and timeout.
	ResponseRequired *ResponseRequired
	// Custom holds application fields that ride along untouched.
	Custom map[string]any
}

// Message is the bus envelope. Create one through a Factory; after
// creation the envelope is immutable and may be shared freely.
type Message struct {
	ID   string
	Path string
	Body any
	Meta Meta

	pooled bool
}

// NewID mints a message id.
func NewID() string {
	return "msg-" + uuid.New().String()
}

// Clone returns a copy of the message with a fresh identity of its own
// metadata maps, so the clone can be staged without aliasing.
func (m *Message) Clone() *Message {
	clone := *m
	clone.pooled = false
	if m.Meta.Custom != nil {
		custom := make(map[string]any, len(m.Meta.Custom))
		for k, v := range m.Meta.Custom {
			custom[k] = v
		}
		clone.Meta.Custom = custom
	}
	if m.Meta.ResponseRequired != nil {
		rr := *m.Meta.ResponseRequired
		clone.Meta.ResponseRequired = &rr
	}
	return &clone
}

func (m *Message) String() string {
	return fmt.Sprintf("message %s path=%s", m.ID, m.Path)
}

// CorrelationID extracts the correlation id linking a reply to its
// request. Extraction order: body.inReplyTo, body.correlationId,
// meta.InReplyTo, meta.CorrelationID, then the legacy meta.ReplyFor.
// First hit wins.
func (m *Message) CorrelationID() string {
	if body, ok := m.Body.(map[string]any); ok {
		if v, ok := body["inReplyTo"].(string); ok && v != "" {
			return v
		}
		if v, ok := body["correlationId"].(string); ok && v != "" {
			return v
		}
	}
	if m.Meta.InReplyTo != "" {
		return m.Meta.InReplyTo
	}
	if m.Meta.CorrelationID != "" {
		return m.Meta.CorrelationID
	}
	return m.Meta.ReplyFor
}
