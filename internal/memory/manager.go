// Package memory implements the token-aware conversation memory manager:
// a short-term buffer of raw interactions plus an optional long-term
// summary, compressed by an external summarizer when the projected token
// cost of the buffer outgrows the context window.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/provider"
)

// summaryFraming prefixes the serialized long-term summary when it is
// injected into the context as a synthetic message.
const summaryFraming = "Summary of the earlier conversation (structured): "

// Interaction is one recorded prompt/response exchange.
type Interaction struct {
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Timestamp    time.Time `json:"timestamp"`
}

// Cost is the interaction's total token cost.
func (i Interaction) Cost() int {
	return i.InputTokens + i.OutputTokens
}

// SummaryInteraction is one compressed entry in the long-term summary.
type SummaryInteraction struct {
	Timestamp       string  `json:"timestamp"`
	Summary         string  `json:"summary"`
	VerbatimContext string  `json:"verbatim_context,omitempty"`
	PriorityScore   float64 `json:"priority_score,omitempty"`
}

// Summary is the long-term summary object. Both keys are always present.
type Summary struct {
	Interactions     []SummaryInteraction `json:"interactions"`
	ImportantDetails []string             `json:"important_details"`
}

// State is the full memory state for one conversation session. It is
// persisted wholesale and only ever mutated by the Manager.
type State struct {
	Buffer  []Interaction `json:"buffer"`
	Summary *Summary      `json:"summary,omitempty"`
	// EMA is the exponentially smoothed per-interaction token cost.
	EMA float64 `json:"ema"`
}

// Stats is a read-only projection used for observability.
type Stats struct {
	BufferSize      int     `json:"buffer_size"`
	HasSummary      bool    `json:"has_summary"`
	SummaryEntries  int     `json:"summary_entries"`
	EstimatedTokens float64 `json:"estimated_tokens"`
}

// Summarizer compresses a buffer (plus any existing summary) into a new
// long-term summary. Implementations are schema-constrained generation
// calls.
type Summarizer interface {
	Summarize(ctx context.Context, buffer []Interaction, existing *Summary) (*Summary, error)
}

// Persistence stores and loads serialized memory state.
type Persistence interface {
	SaveMemoryState(userID, sessionID, state string) error
	LoadMemoryState(userID, sessionID string) (string, bool, error)
}

// Manager owns the memory state of every active session in this process.
type Manager struct {
	cfg        config.MemoryConfig
	summarizer Summarizer
	persist    Persistence
	logger     *slog.Logger

	mu     sync.Mutex
	states map[string]*State
}

// NewManager creates a memory manager.
func NewManager(cfg config.MemoryConfig, summarizer Summarizer, persist Persistence, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		summarizer: summarizer,
		persist:    persist,
		logger:     logger,
		states:     map[string]*State{},
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// state returns the in-process state for a session, loading it from the
// persistence collaborator on first access. Callers hold mu.
func (m *Manager) state(userID, sessionID string) *State {
	key := sessionKey(userID, sessionID)
	if st, ok := m.states[key]; ok {
		return st
	}
	st := &State{}
	if m.persist != nil {
		raw, ok, err := m.persist.LoadMemoryState(userID, sessionID)
		if err != nil {
			m.logger.Warn("memory load failed, starting empty", "user", userID, "session", sessionID, "error", err)
		} else if ok {
			if err := json.Unmarshal([]byte(raw), st); err != nil {
				m.logger.Warn("memory state corrupt, starting empty", "user", userID, "session", sessionID, "error", err)
				st = &State{}
			}
		}
	}
	m.states[key] = st
	return st
}

// Context assembles the ordered role-tagged message list for a session:
// the framed summary first if one exists, then every buffered interaction
// expanded to a (user, assistant) pair in chronological order. A brand-new
// session yields an empty list.
func (m *Manager) Context(userID, sessionID string) []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(userID, sessionID)
	var msgs []provider.Message
	if st.Summary != nil {
		raw, err := json.Marshal(st.Summary)
		if err == nil {
			msgs = append(msgs, provider.Message{
				Role:    "assistant",
				Content: summaryFraming + string(raw),
			})
		}
	}
	for _, it := range st.Buffer {
		msgs = append(msgs,
			provider.Message{Role: "user", Content: it.Prompt},
			provider.Message{Role: "assistant", Content: it.Response},
		)
	}
	return msgs
}

// AddInteraction appends an exchange to the short-term buffer and runs the
// summarization trigger. It returns whether a summarization pass ran and
// succeeded. A failed summarizer call leaves the buffer intact so the next
// turn retries.
func (m *Manager) AddInteraction(ctx context.Context, userID, sessionID string, in Interaction) (bool, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	m.mu.Lock()
	st := m.state(userID, sessionID)
	st.Buffer = append(st.Buffer, in)

	cost := float64(in.Cost())
	if st.EMA == 0 {
		st.EMA = cost
	} else {
		st.EMA = m.cfg.SmoothingFactor*cost + (1-m.cfg.SmoothingFactor)*st.EMA
	}

	count := len(st.Buffer)
	projected := float64(count) * st.EMA
	threshold := float64(m.cfg.MaxContextTokens) * m.cfg.SafetyMargin

	trigger := count >= m.cfg.MinInteractionsBeforeSummary && projected > threshold
	if count >= m.cfg.MaxInteractionsLimit {
		trigger = true
	}
	if !trigger {
		m.mu.Unlock()
		return false, nil
	}

	// Snapshot under the lock; the summarizer call runs without it so a
	// slow model does not stall unrelated sessions.
	buffer := make([]Interaction, count)
	copy(buffer, st.Buffer)
	existing := st.Summary
	m.mu.Unlock()

	summary, err := m.summarizer.Summarize(ctx, buffer, existing)
	if err != nil {
		m.logger.Warn("summarization failed, keeping buffer", "user", userID, "session", sessionID, "error", err)
		return false, nil
	}
	if summary == nil {
		m.logger.Warn("summarizer returned nothing, keeping buffer", "user", userID, "session", sessionID)
		return false, nil
	}
	if summary.Interactions == nil {
		summary.Interactions = []SummaryInteraction{}
	}
	if summary.ImportantDetails == nil {
		summary.ImportantDetails = []string{}
	}

	m.mu.Lock()
	st = m.state(userID, sessionID)
	st.Summary = summary
	// Drop exactly the interactions that were summarized. Anything appended
	// while the summarizer ran stays buffered.
	if len(st.Buffer) >= count {
		st.Buffer = append([]Interaction{}, st.Buffer[count:]...)
	} else {
		st.Buffer = nil
	}
	st.EMA = 0
	m.mu.Unlock()

	m.logger.Info("conversation summarized", "user", userID, "session", sessionID, "compressed", count)
	return true, nil
}

// Save persists the session's memory state wholesale. Called once at the
// end of a turn.
func (m *Manager) Save(userID, sessionID string) error {
	if m.persist == nil {
		return nil
	}
	m.mu.Lock()
	st := m.state(userID, sessionID)
	raw, err := json.Marshal(st)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal memory state: %w", err)
	}
	if err := m.persist.SaveMemoryState(userID, sessionID, string(raw)); err != nil {
		return fmt.Errorf("persist memory state: %w", err)
	}
	return nil
}

// Stats returns the observability projection for a session.
func (m *Manager) Stats(userID, sessionID string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(userID, sessionID)
	s := Stats{
		BufferSize:      len(st.Buffer),
		HasSummary:      st.Summary != nil,
		EstimatedTokens: float64(len(st.Buffer)) * st.EMA,
	}
	if st.Summary != nil {
		s.SummaryEntries = len(st.Summary.Interactions)
	}
	return s
}
