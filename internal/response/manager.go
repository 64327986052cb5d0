// Package response implements the kernel's response manager: pending
// command responses indexed by correlation id, a deadline sweep that
// emits synthetic timeout replies, and a TTL window that drops late
// duplicate replies.
package response

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/lesfleursdelanuitdev/mycelia/internal/identity"
	"github.com/lesfleursdelanuitdev/mycelia/internal/log"
	"github.com/lesfleursdelanuitdev/mycelia/internal/message"
)

// ErrNoPending is returned when a reply matches no pending response.
var ErrNoPending = errors.New("no pending response")

// ErrDuplicateReply is returned when a reply's correlation id was
// already handled within the dedup window.
var ErrDuplicateReply = errors.New("duplicate reply")

// ErrMissingCorrelation is returned when a reply carries no
// correlation id.
var ErrMissingCorrelation = errors.New("reply carries no correlation id")

// SyntheticOptionKey marks replies synthesized by the manager itself.
const SyntheticOptionKey = "syntheticTimeout"

// Pending is one tracked command response.
type Pending struct {
	CorrelationID string
	Owner         identity.PKR
	ReplyTo       string
	Deadline      time.Time // zero means no deadline
}

// SendFunc dispatches a synthetic reply through the kernel's
// privileged send.
type SendFunc func(msg *message.Message, opts *message.Options) error

// Config configures the manager.
type Config struct {
	// SweepInterval is how often deadlines are checked.
	SweepInterval time.Duration
	// DedupWindow is how long handled correlation ids are remembered.
	DedupWindow time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 50 * time.Millisecond,
		DedupWindow:   30 * time.Second,
	}
}

// Manager tracks pending command responses on behalf of the kernel.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending

	handled *gocache.Cache // correlationID -> struct{}, TTL window
	factory *message.Factory
	send    SendFunc

	sweepInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}

	now func() time.Time
}

// NewManager creates a response manager. The factory stamps synthetic
// replies; send dispatches them. A nil config uses defaults.
func NewManager(config *Config, factory *message.Factory, send SendFunc) *Manager {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = DefaultConfig().SweepInterval
		}
		if cfg.DedupWindow <= 0 {
			cfg.DedupWindow = DefaultConfig().DedupWindow
		}
	}
	return &Manager{
		pending:       make(map[string]*Pending),
		handled:       gocache.New(cfg.DedupWindow, cfg.DedupWindow),
		factory:       factory,
		send:          send,
		sweepInterval: cfg.SweepInterval,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start launches the deadline sweep goroutine.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Close stops the sweep. Pending entries are left in place; the kernel
// disposes them with the bus.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Register tracks a pending response. The reply route must be named;
// a zero timeout means no deadline.
func (m *Manager) Register(correlationID string, owner identity.PKR, replyTo string, timeoutMillis int64) error {
	if correlationID == "" {
		return fmt.Errorf("pending response requires a correlation id")
	}
	if replyTo == "" {
		return fmt.Errorf("pending response requires a replyTo route")
	}

	p := &Pending{CorrelationID: correlationID, Owner: owner, ReplyTo: replyTo}
	if timeoutMillis > 0 {
		p.Deadline = m.now().Add(time.Duration(timeoutMillis) * time.Millisecond)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[correlationID]; exists {
		return fmt.Errorf("pending response already registered: %s", correlationID)
	}
	m.pending[correlationID] = p
	return nil
}

// HandleResponse settles the pending entry a reply corresponds to.
// Replies without a correlation id, duplicates within the dedup
// window, and replies matching nothing are errors the kernel treats as
// best-effort (logged, never fatal to dispatch).
func (m *Manager) HandleResponse(msg *message.Message) error {
	cid := msg.CorrelationID()
	if cid == "" {
		return ErrMissingCorrelation
	}

	if _, dup := m.handled.Get(cid); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateReply, cid)
	}

	m.mu.Lock()
	_, exists := m.pending[cid]
	if exists {
		delete(m.pending, cid)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNoPending, cid)
	}
	m.handled.Set(cid, struct{}{}, gocache.DefaultExpiration)
	return nil
}

// PendingCount returns the number of tracked responses.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep emits a synthetic timeout reply for every pending entry whose
// deadline has elapsed.
func (m *Manager) sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []*Pending
	for cid, p := range m.pending {
		if !p.Deadline.IsZero() && now.After(p.Deadline) {
			expired = append(expired, p)
			delete(m.pending, cid)
		}
	}
	m.mu.Unlock()

	for _, p := range expired {
		m.handled.Set(p.CorrelationID, struct{}{}, gocache.DefaultExpiration)
		if err := m.emitTimeout(p); err != nil {
			log.ErrorErr(log.CatResponse, "synthetic timeout dispatch failed", err,
				"correlationId", p.CorrelationID, "replyTo", p.ReplyTo)
		}
	}
}

// emitTimeout synthesizes the failure reply for a timed-out command
// and dispatches it to the pending entry's reply route.
func (m *Manager) emitTimeout(p *Pending) error {
	body := map[string]any{
		"success":   false,
		"error":     "timeout",
		"kind":      "timeout",
		"inReplyTo": p.CorrelationID,
	}
	msg := m.factory.New(p.ReplyTo, body,
		message.WithInReplyTo(p.CorrelationID),
		message.WithSuccess(false),
	)

	opts := message.NewOptions()
	opts.SetIsResponse(true)
	// The kernel skips its own HandleResponse notification for replies
	// the manager itself synthesized.
	opts.Set(SyntheticOptionKey, true)
	return m.send(msg, opts)
}
