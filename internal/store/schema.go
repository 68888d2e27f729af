package store

import (
	"time"
)

// ChatMessage is a single logged exchange line in a conversation.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user | assistant
	Content   string    `json:"content"`
	Mode      string    `json:"mode,omitempty"` // default | reason | code
	CreatedAt time.Time `json:"created_at"`
}

// SearchLog records one URL surfaced by a web search tool call.
type SearchLog struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MailAccount holds a connected mailbox's OAuth tokens.
type MailAccount struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSettings holds per-user generation preferences.
type UserSettings struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name,omitempty"`
	Persona     string  `json:"persona,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	// APIKey, when set, overrides the server's provider key for this user.
	APIKey string `json:"api_key,omitempty"`
}

// ApprovalRecord represents a gated-action approval request.
type ApprovalRecord struct {
	ID          int64      `json:"id"`
	ApprovalID  string     `json:"approval_id"`
	UserID      string     `json:"user_id"`
	SessionID   string     `json:"session_id"`
	Action      string     `json:"action"`
	Arguments   string     `json:"arguments,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
	ApprovalTimedOut = "timed_out"
)

const Schema = `
CREATE TABLE IF NOT EXISTS chat_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	mode TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(user_id, session_id);
CREATE INDEX IF NOT EXISTS idx_chat_history_created ON chat_history(created_at);

CREATE TABLE IF NOT EXISTS memory_state (
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, session_id)
);

CREATE TABLE IF NOT EXISTS search_web_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_search_logs_session ON search_web_logs(user_id, session_id);

CREATE TABLE IF NOT EXISTS search_web_realtime_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT UNIQUE NOT NULL,
	response TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mail_accounts (
	user_id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT DEFAULT '',
	token_expiry DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id TEXT PRIMARY KEY,
	name TEXT DEFAULT '',
	persona TEXT DEFAULT '',
	temperature REAL NOT NULL DEFAULT 0.7,
	top_p REAL NOT NULL DEFAULT 0.9,
	api_key TEXT DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS approval_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	action TEXT NOT NULL,
	arguments TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	responded_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approval_status ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_approval_id ON approval_requests(approval_id);

CREATE TABLE IF NOT EXISTS unauthorized_counts (
	client_id TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
