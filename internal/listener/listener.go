// Package listener implements the per-subsystem event listener facet:
// handlers keyed by path, with a pluggable registration policy deciding
// how repeated registrations on the same path combine.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

// ErrListenerExists is returned by the single policy when a path
// already has a listener.
var ErrListenerExists = errors.New("listener already registered")

// ErrListenerLimit is returned by the limited policy at capacity.
var ErrListenerLimit = errors.New("listener limit reached")

// Handler consumes an emitted message. Errors are logged, never fatal
// to sibling listeners.
type Handler func(ctx context.Context, msg *message.Message) error

// Entry is a stored listener registration. The triple survives off/on
// cycles unchanged; policies may order entries but never rewrite them.
type Entry struct {
	Path     string
	Priority int
	handler  Handler
	seq      int
}

// Handler returns the registered handler.
func (e Entry) Handler() Handler { return e.handler }

// Config configures a listener registry.
type Config struct {
	// Policy decides how registrations on one path combine.
	// Nil means PolicyMultiple.
	Policy Policy
	// Debug enables emit logging.
	Debug bool
}

// Registry is the listener facet value.
type Registry struct {
	mu       sync.RWMutex
	byPath   map[string][]Entry
	policy   Policy
	nextSeq  int
	debug    bool
	disposed bool
}

// NewRegistry creates a listener registry. A nil config uses the
// multiple policy.
func NewRegistry(config *Config) *Registry {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Policy == nil {
		cfg.Policy = PolicyMultiple()
	}
	return &Registry{
		byPath: make(map[string][]Entry),
		policy: cfg.Policy,
		debug:  cfg.Debug,
	}
}

// OnOption adjusts one registration.
type OnOption func(*Entry)

// WithPriority sets the entry's priority (higher runs earlier under the
// priority policy).
func WithPriority(p int) OnOption {
	return func(e *Entry) { e.Priority = p }
}

// Subscription identifies one registration for later removal.
type Subscription struct {
	Path string
	seq  int
}

// On registers a handler for path under the registry's policy and
// returns the subscription used to remove it.
func (r *Registry) On(path string, h Handler, opts ...OnOption) (Subscription, error) {
	if h == nil {
		return Subscription{}, fmt.Errorf("listener on %q: nil handler", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return Subscription{}, fmt.Errorf("listener registry disposed")
	}

	e := Entry{Path: path, handler: h, seq: r.nextSeq}
	for _, opt := range opts {
		opt(&e)
	}
	r.nextSeq++

	next, err := r.policy.Place(r.byPath[path], e)
	if err != nil {
		return Subscription{}, err
	}
	r.byPath[path] = next
	return Subscription{Path: path, seq: e.seq}, nil
}

// Off removes the subscribed entry. Entries keep their stored order;
// removal never re-sorts the remainder. Removing a stale subscription
// (e.g. one displaced by the replace policy) is a no-op.
func (r *Registry) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byPath[sub.Path]
	for i, e := range entries {
		if e.seq == sub.seq {
			r.byPath[sub.Path] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.byPath[sub.Path]) == 0 {
		delete(r.byPath, sub.Path)
	}
}

// OffAll removes every listener on path.
func (r *Registry) OffAll(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPath, path)
}

// Count returns the number of listeners on path.
func (r *Registry) Count(path string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath[path])
}

// Entries returns a copy of the stored entries for path.
func (r *Registry) Entries(path string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.byPath[path]))
	copy(out, r.byPath[path])
	return out
}

// Emit invokes every listener on path with msg, in stored order.
// A failing or panicking listener does not prevent the others from
// running. Returns the number of listeners invoked.
func (r *Registry) Emit(ctx context.Context, path string, msg *message.Message) int {
	r.mu.RLock()
	entries := make([]Entry, len(r.byPath[path]))
	copy(entries, r.byPath[path])
	r.mu.RUnlock()

	for _, e := range entries {
		invoke(ctx, e, msg, r.debug)
	}
	return len(entries)
}

func invoke(ctx context.Context, e Entry, msg *message.Message, debug bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(log.CatBus, "listener panicked", "path", e.Path, "panic", rec)
		}
	}()
	if err := e.handler(ctx, msg); err != nil {
		log.Warn(log.CatBus, "listener failed", "path", e.Path, "error", err)
	} else if debug {
		log.Debug(log.CatBus, "listener ran", "path", e.Path)
	}
}

// Dispose drops all listeners and rejects further registration.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPath = make(map[string][]Entry)
	r.disposed = true
}
