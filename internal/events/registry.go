// Package events tracks the single in-flight sub-agent run per
// conversation and lets external callbacks (websocket handlers) resolve
// the events that run is blocked on.
package events

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a run is already active for a conversation.
// The second caller is rejected rather than displacing the first, which
// would orphan its pending waits.
var ErrBusy = errors.New("an agent run is already active for this session")

// Key identifies one conversation.
type Key struct {
	UserID    string
	SessionID string
}

// Handle is the per-run event handle returned to whoever started the run.
// External deliverers look it up through the registry and resolve events
// on it; the run itself blocks on the channels.
type Handle struct {
	key Key
	reg *Registry

	authOnce sync.Once
	authCh   chan struct{}

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// Key returns the conversation this handle belongs to.
func (h *Handle) Key() Key { return h.key }

// ResolveAuth signals that mailbox authorization completed. Safe to call
// more than once.
func (h *Handle) ResolveAuth() {
	h.authOnce.Do(func() { close(h.authCh) })
}

// AuthResolved is closed when authorization has been delivered.
func (h *Handle) AuthResolved() <-chan struct{} { return h.authCh }

// Cancel signals the run to stop. Safe to call more than once.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Cancelled is closed when the run has been told to stop.
func (h *Handle) Cancelled() <-chan struct{} { return h.cancelCh }

// Close deregisters the run. Always call when the run ends, whatever the
// outcome.
func (h *Handle) Close() {
	h.reg.end(h)
}

// Registry is the process-wide map of active runs, keyed by conversation.
type Registry struct {
	mu     sync.Mutex
	active map[Key]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: map[Key]*Handle{}}
}

// Begin registers a new run for the conversation. At most one run may be
// active per key; a concurrent second Begin returns ErrBusy.
func (r *Registry) Begin(userID, sessionID string) (*Handle, error) {
	key := Key{UserID: userID, SessionID: sessionID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[key]; exists {
		return nil, ErrBusy
	}
	h := &Handle{
		key:      key,
		reg:      r,
		authCh:   make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
	r.active[key] = h
	return h, nil
}

// Lookup returns the active run handle for a conversation, if any.
func (r *Registry) Lookup(userID, sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[Key{UserID: userID, SessionID: sessionID}]
	return h, ok
}

func (r *Registry) end(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Only remove the handle that registered itself; a successor run under
	// the same key must not be evicted by a stale Close.
	if cur, ok := r.active[h.key]; ok && cur == h {
		delete(r.active, h.key)
	}
}
