package message

import "sync"

// Factory creates messages stamped with the owning subsystem's name.
// Envelopes are pooled; the bus borrows a pooled message exclusively
// between Acquire and Release.
type Factory struct {
	subsystem string
	pool      sync.Pool
}

// NewFactory creates a factory for the named subsystem.
func NewFactory(subsystem string) *Factory {
	return &Factory{
		subsystem: subsystem,
		pool: sync.Pool{
			New: func() any { return new(Message) },
		},
	}
}

// Subsystem returns the origin name stamped on created messages.
func (f *Factory) Subsystem() string { return f.subsystem }

// MetaOption mutates metadata at creation time.
type MetaOption func(*Meta)

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) MetaOption {
	return func(m *Meta) { m.CorrelationID = id }
}

// WithInReplyTo marks the message as answering another.
func WithInReplyTo(id string) MetaOption {
	return func(m *Meta) {
		m.InReplyTo = id
		m.IsResponse = true
	}
}

// WithSuccess stamps the outcome flag on a response.
func WithSuccess(ok bool) MetaOption {
	return func(m *Meta) { m.Success = &ok }
}

// WithResponseRequired names the reply route and timeout.
func WithResponseRequired(replyTo string, timeoutMillis int64) MetaOption {
	return func(m *Meta) {
		m.ResponseRequired = &ResponseRequired{ReplyTo: replyTo, TimeoutMillis: timeoutMillis}
	}
}

// WithCustom sets an application metadata field.
func WithCustom(key string, value any) MetaOption {
	return func(m *Meta) {
		if m.Custom == nil {
			m.Custom = make(map[string]any)
		}
		m.Custom[key] = value
	}
}

// New creates a message with a fresh id.
func (f *Factory) New(path string, body any, opts ...MetaOption) *Message {
	m := &Message{
		ID:   NewID(),
		Path: path,
		Body: body,
		Meta: Meta{Subsystem: f.subsystem},
	}
	for _, opt := range opts {
		opt(&m.Meta)
	}
	return m
}

// Acquire takes a pooled message and initializes it like New.
func (f *Factory) Acquire(path string, body any, opts ...MetaOption) *Message {
	m := f.pool.Get().(*Message)
	*m = Message{
		ID:     NewID(),
		Path:   path,
		Body:   body,
		Meta:   Meta{Subsystem: f.subsystem},
		pooled: true,
	}
	for _, opt := range opts {
		opt(&m.Meta)
	}
	return m
}

// Release zeroes a pooled message and returns it to the pool. Messages
// not created by Acquire are ignored.
func (f *Factory) Release(m *Message) {
	if m == nil || !m.pooled {
		return
	}
	*m = Message{}
	f.pool.Put(m)
}
