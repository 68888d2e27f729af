// Package server exposes the HTTP surface: the streaming chat endpoint,
// the memory-stats probe, and the websocket gateway for email tool
// callbacks.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/loop"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/store"
)

// TurnRunner executes one chat turn, streaming envelope events into the
// sink. *loop.Runner satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, req loop.Request, sink loop.Sink) (*loop.Result, error)
}

// Accounts reads per-user preferences and tracks anonymous usage. The
// store satisfies it.
type Accounts interface {
	UserSettingsFor(userID string) (*store.UserSettings, error)
	BumpUnauthorized(clientID string) (int, error)
}

// StatsSource reports a session's memory state. *memory.Manager
// satisfies it.
type StatsSource interface {
	Stats(userID, sessionID string) memory.Stats
}

// Server routes HTTP traffic onto the turn runner and the gateway.
type Server struct {
	cfg      config.ServerConfig
	models   config.ModelsConfig
	runner   TurnRunner
	accounts Accounts
	memory   StatsSource
	gateway  http.Handler
	logger   *slog.Logger
	// activity is invoked for every request that counts as user traffic.
	// The inactivity monitor hangs off it; may be nil.
	activity func(path string)

	mux *http.ServeMux
}

// Params collects the server's collaborators.
type Params struct {
	Config   config.ServerConfig
	Models   config.ModelsConfig
	Runner   TurnRunner
	Accounts Accounts
	Memory   StatsSource
	Gateway  http.Handler
	Logger   *slog.Logger
	Activity func(path string)
}

// New builds the server and its route table.
func New(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      p.Config,
		models:   p.Models,
		runner:   p.Runner,
		accounts: p.Accounts,
		memory:   p.Memory,
		gateway:  p.Gateway,
		logger:   logger,
		activity: p.Activity,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/memory-stats/", s.handleMemoryStats)
	if s.gateway != nil {
		mux.Handle("/ws", s.gateway)
	}
	mux.HandleFunc("/ping", handleProbe)
	mux.HandleFunc("/health", handleProbe)
	s.mux = mux
	return s
}

// Probe paths never reset the inactivity timer.
var probePaths = map[string]bool{"/ping": true, "/health": true}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.activity != nil && !probePaths[r.URL.Path] {
		s.activity(r.URL.Path)
	}
	s.mux.ServeHTTP(w, r)
}

func handleProbe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	// Reason selects the response grammar: default, reason, or code.
	Reason string `json:"reason"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.SessionID == "" || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and query are required"})
		return
	}

	turn := loop.Request{
		SessionID: req.SessionID,
		Prompt:    req.Query,
		Mode:      validateMode(req.Reason),
	}

	if userID := r.Header.Get("X-User-ID"); userID != "" {
		settings, err := s.accounts.UserSettingsFor(userID)
		if err != nil {
			s.logger.Error("user settings lookup failed", "user", userID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
			return
		}
		turn.UserID = userID
		turn.Temperature = settings.Temperature
		turn.TopP = settings.TopP
		turn.APIKey = settings.APIKey
		turn.UserName = settings.Name
		turn.Persona = settings.Persona
	} else {
		// Anonymous callers are keyed by session and capped before they
		// must sign in. Grammar selection is a signed-in feature.
		count, err := s.accounts.BumpUnauthorized(req.SessionID)
		if err != nil {
			s.logger.Error("anonymous count failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if count > s.cfg.AnonymousRequestLimit {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "You have hit the limit. Please sign in to continue."})
			return
		}
		turn.UserID = req.SessionID
		turn.Mode = loop.ModeDefault
		turn.Temperature = 0.7
		turn.TopP = 1.0
		turn.UserName = "User"
	}
	turn.Model = s.models.ForMode(turn.Mode)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	sink := &sseSink{w: w, flusher: flusher}
	_, err := s.runner.Run(r.Context(), turn, sink)
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Warn("client disconnected mid-turn", "session", req.SessionID)
			return
		}
		s.logger.Error("turn failed", "session", req.SessionID, "error", err)
	}
	sink.endOfStream()
}

// handleMemoryStats serves GET /memory-stats/{session}.
func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/memory-stats/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id required"})
		return
	}
	writeJSON(w, http.StatusOK, s.memory.Stats(userID, sessionID))
}

func validateMode(mode string) string {
	switch mode {
	case loop.ModeReason, loop.ModeCode:
		return mode
	default:
		return loop.ModeDefault
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
