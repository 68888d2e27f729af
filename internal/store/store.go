// Package store provides SQLite persistence for conversations, memory
// state, tool logs, mailbox accounts, settings, and approvals.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE chat_history ADD COLUMN mode TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE user_settings ADD COLUMN api_key TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE mail_accounts ADD COLUMN refresh_token TEXT DEFAULT ''`)
	// Stale pending approvals from a previous process are unanswerable.
	_, _ = db.Exec(`UPDATE approval_requests SET status = 'timed_out', responded_at = CURRENT_TIMESTAMP WHERE status = 'pending'`)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// chat_history
// ---------------------------------------------------------------------------

// AppendMessage records one conversation line.
func (s *Store) AppendMessage(m *ChatMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_history (user_id, session_id, role, content, mode) VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.SessionID, m.Role, m.Content, m.Mode,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages for a session in
// chronological order.
func (s *Store) RecentMessages(userID, sessionID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, session_id, role, content, mode, created_at FROM (
			SELECT id, user_id, session_id, role, content, mode, created_at
			FROM chat_history
			WHERE user_id = ? AND session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Role, &m.Content, &m.Mode, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// memory_state
// ---------------------------------------------------------------------------

// SaveMemoryState persists the serialized memory state for a session.
func (s *Store) SaveMemoryState(userID, sessionID, state string) error {
	_, err := s.db.Exec(`
		INSERT INTO memory_state (user_id, session_id, state, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		userID, sessionID, state,
	)
	if err != nil {
		return fmt.Errorf("save memory state: %w", err)
	}
	return nil
}

// LoadMemoryState returns the serialized memory state for a session, or
// ("", false, nil) when none has been saved yet.
func (s *Store) LoadMemoryState(userID, sessionID string) (string, bool, error) {
	var state string
	err := s.db.QueryRow(
		`SELECT state FROM memory_state WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load memory state: %w", err)
	}
	return state, true, nil
}

// ---------------------------------------------------------------------------
// search_web_logs + realtime cache
// ---------------------------------------------------------------------------

// LogSearchResult records one surfaced URL for a search tool call.
func (s *Store) LogSearchResult(l *SearchLog) error {
	_, err := s.db.Exec(
		`INSERT INTO search_web_logs (user_id, session_id, query, url, title) VALUES (?, ?, ?, ?, ?)`,
		l.UserID, l.SessionID, l.Query, l.URL, l.Title,
	)
	if err != nil {
		return fmt.Errorf("log search result: %w", err)
	}
	return nil
}

// SearchLogsForSession returns all URLs captured for a session.
func (s *Store) SearchLogsForSession(userID, sessionID string) ([]SearchLog, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, session_id, query, url, title, created_at
		FROM search_web_logs
		WHERE user_id = ? AND session_id = ?
		ORDER BY id ASC`,
		userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("search logs: %w", err)
	}
	defer rows.Close()

	var out []SearchLog
	for rows.Next() {
		var l SearchLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.SessionID, &l.Query, &l.URL, &l.Title, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CacheSearchResponse stores the raw response for a query, replacing any
// previous entry.
func (s *Store) CacheSearchResponse(query, response string) error {
	_, err := s.db.Exec(`
		INSERT INTO search_web_realtime_cache (query, response)
		VALUES (?, ?)
		ON CONFLICT(query) DO UPDATE SET
			response = excluded.response,
			created_at = CURRENT_TIMESTAMP`,
		query, response,
	)
	if err != nil {
		return fmt.Errorf("cache search response: %w", err)
	}
	return nil
}

// CachedSearchResponse returns a cached response no older than maxAge.
func (s *Store) CachedSearchResponse(query string, maxAge time.Duration) (string, bool, error) {
	var response string
	var createdAt time.Time
	err := s.db.QueryRow(
		`SELECT response, created_at FROM search_web_realtime_cache WHERE query = ?`,
		query,
	).Scan(&response, &createdAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cached search response: %w", err)
	}
	if time.Since(createdAt) > maxAge {
		return "", false, nil
	}
	return response, true, nil
}

// ---------------------------------------------------------------------------
// mail_accounts
// ---------------------------------------------------------------------------

// SaveMailAccount upserts a connected mailbox for a user.
func (s *Store) SaveMailAccount(a *MailAccount) error {
	_, err := s.db.Exec(`
		INSERT INTO mail_accounts (user_id, email, access_token, refresh_token, token_expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			updated_at = CURRENT_TIMESTAMP`,
		a.UserID, a.Email, a.AccessToken, a.RefreshToken, a.TokenExpiry,
	)
	if err != nil {
		return fmt.Errorf("save mail account: %w", err)
	}
	return nil
}

// MailAccountFor returns the connected mailbox for a user, if any.
func (s *Store) MailAccountFor(userID string) (*MailAccount, bool, error) {
	var a MailAccount
	err := s.db.QueryRow(`
		SELECT user_id, email, access_token, refresh_token, token_expiry, updated_at
		FROM mail_accounts WHERE user_id = ?`,
		userID,
	).Scan(&a.UserID, &a.Email, &a.AccessToken, &a.RefreshToken, &a.TokenExpiry, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mail account: %w", err)
	}
	return &a, true, nil
}

// DeleteMailAccount disconnects a user's mailbox.
func (s *Store) DeleteMailAccount(userID string) error {
	_, err := s.db.Exec(`DELETE FROM mail_accounts WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete mail account: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// user_settings
// ---------------------------------------------------------------------------

// SaveUserSettings upserts a user's generation preferences.
func (s *Store) SaveUserSettings(u *UserSettings) error {
	_, err := s.db.Exec(`
		INSERT INTO user_settings (user_id, name, persona, temperature, top_p, api_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			persona = excluded.persona,
			temperature = excluded.temperature,
			top_p = excluded.top_p,
			api_key = excluded.api_key,
			updated_at = CURRENT_TIMESTAMP`,
		u.UserID, u.Name, u.Persona, u.Temperature, u.TopP, u.APIKey,
	)
	if err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	return nil
}

// UserSettingsFor returns a user's settings, falling back to defaults when
// none are stored.
func (s *Store) UserSettingsFor(userID string) (*UserSettings, error) {
	u := &UserSettings{UserID: userID, Temperature: 0.7, TopP: 0.9}
	err := s.db.QueryRow(`
		SELECT name, persona, temperature, top_p, api_key
		FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&u.Name, &u.Persona, &u.Temperature, &u.TopP, &u.APIKey)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// approval_requests
// ---------------------------------------------------------------------------

// CreateApproval records a new pending approval request.
func (s *Store) CreateApproval(r *ApprovalRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO approval_requests (approval_id, user_id, session_id, action, arguments, status)
		VALUES (?, ?, ?, ?, ?, 'pending')`,
		r.ApprovalID, r.UserID, r.SessionID, r.Action, r.Arguments,
	)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// ResolveApproval marks an approval request with its outcome.
func (s *Store) ResolveApproval(approvalID, status string) error {
	_, err := s.db.Exec(`
		UPDATE approval_requests
		SET status = ?, responded_at = CURRENT_TIMESTAMP
		WHERE approval_id = ? AND status = 'pending'`,
		status, approvalID,
	)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	return nil
}

// ApprovalByID returns one approval request.
func (s *Store) ApprovalByID(approvalID string) (*ApprovalRecord, bool, error) {
	var r ApprovalRecord
	var responded sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, approval_id, user_id, session_id, action, arguments, status, created_at, responded_at
		FROM approval_requests WHERE approval_id = ?`,
		approvalID,
	).Scan(&r.ID, &r.ApprovalID, &r.UserID, &r.SessionID, &r.Action, &r.Arguments, &r.Status, &r.CreatedAt, &responded)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("approval by id: %w", err)
	}
	if responded.Valid {
		r.RespondedAt = &responded.Time
	}
	return &r, true, nil
}

// ---------------------------------------------------------------------------
// unauthorized_counts
// ---------------------------------------------------------------------------

// BumpUnauthorized increments and returns the request count for an
// anonymous client.
func (s *Store) BumpUnauthorized(clientID string) (int, error) {
	_, err := s.db.Exec(`
		INSERT INTO unauthorized_counts (client_id, count, updated_at)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(client_id) DO UPDATE SET
			count = count + 1,
			updated_at = CURRENT_TIMESTAMP`,
		clientID,
	)
	if err != nil {
		return 0, fmt.Errorf("bump unauthorized: %w", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT count FROM unauthorized_counts WHERE client_id = ?`, clientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("bump unauthorized: %w", err)
	}
	return count, nil
}
