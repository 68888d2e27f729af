// Package approval provides interactive approval gates for irreversible
// mail operations.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepthinks/deepthinks/internal/store"
)

// Request represents a pending approval for a gated action.
type Request struct {
	ApprovalID string         `json:"approval_id"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Action     string         `json:"action"`
	Arguments  map[string]any `json:"arguments"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Persistence records approval outcomes. The store satisfies it; stale
// pending rows are flipped to timed_out when the store opens.
type Persistence interface {
	CreateApproval(r *store.ApprovalRecord) error
	ResolveApproval(approvalID, status string) error
}

// Manager handles approval lifecycle: create, wait, respond.
type Manager struct {
	mu      sync.Mutex
	pending map[string]chan bool
	persist Persistence
}

// NewManager creates an approval manager. persist may be nil.
func NewManager(persist Persistence) *Manager {
	return &Manager{
		pending: make(map[string]chan bool),
		persist: persist,
	}
}

// Create registers a new approval request and returns its ID.
func (m *Manager) Create(req *Request) string {
	id := uuid.NewString()
	req.ApprovalID = id
	req.Status = store.ApprovalPending
	req.CreatedAt = time.Now()

	ch := make(chan bool, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()

	// Persist (best-effort)
	if m.persist != nil {
		argsJSON, _ := json.Marshal(req.Arguments)
		_ = m.persist.CreateApproval(&store.ApprovalRecord{
			ApprovalID: id,
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			Action:     req.Action,
			Arguments:  string(argsJSON),
		})
	}

	return id
}

// Wait blocks until the approval is responded to or the context expires.
// A context timeout counts as a rejection and is recorded as timed_out.
func (m *Manager) Wait(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no pending approval: %s", id)
	}

	select {
	case approved := <-ch:
		m.cleanup(id)
		status := store.ApprovalDenied
		if approved {
			status = store.ApprovalApproved
		}
		if m.persist != nil {
			_ = m.persist.ResolveApproval(id, status)
		}
		return approved, nil
	case <-ctx.Done():
		m.cleanup(id)
		if m.persist != nil {
			_ = m.persist.ResolveApproval(id, store.ApprovalTimedOut)
		}
		return false, ctx.Err()
	}
}

// Respond delivers an approval decision for a pending request.
func (m *Manager) Respond(id string, approved bool) error {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval: %s", id)
	}

	// Non-blocking send (channel is buffered with size 1)
	select {
	case ch <- approved:
	default:
	}
	return nil
}

func (m *Manager) cleanup(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
