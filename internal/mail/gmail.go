package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/store"
)

const (
	gmailAPIBase   = "https://gmail.googleapis.com/gmail/v1/users/me"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// Service hands out per-user mailboxes and answers the authorization
// predicate the sub-agent gates on.
type Service struct {
	accounts     *store.Store
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// NewService creates the mailbox service. Client credentials are only
// needed for token refresh.
func NewService(accounts *store.Store, clientID, clientSecret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts:     accounts,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// Connected reports whether the user has a mailbox connected. This is the
// authorization predicate the sub-agent polls while waiting.
func (s *Service) Connected(userID string) bool {
	_, ok, err := s.accounts.MailAccountFor(userID)
	if err != nil {
		s.logger.Warn("mail account lookup failed", "user", userID, "error", err)
		return false
	}
	return ok
}

// MailboxFor returns a mailbox bound to the user's stored tokens.
func (s *Service) MailboxFor(ctx context.Context, userID string) (Mailbox, error) {
	acct, ok, err := s.accounts.MailAccountFor(userID)
	if err != nil {
		return nil, fmt.Errorf("load mail account: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no mailbox connected for user %s", userID)
	}
	return &gmailMailbox{svc: s, acct: acct, httpClient: &http.Client{Timeout: 30 * time.Second}, apiBase: gmailAPIBase}, nil
}

// gmailMailbox talks to the Gmail REST API with a stored access token,
// refreshing it through the OAuth token endpoint when expired.
type gmailMailbox struct {
	svc        *Service
	acct       *store.MailAccount
	httpClient *http.Client
	apiBase    string
	tokenURL   string
}

func (g *gmailMailbox) token(ctx context.Context) (string, error) {
	if time.Until(g.acct.TokenExpiry) > time.Minute {
		return g.acct.AccessToken, nil
	}
	if g.acct.RefreshToken == "" {
		return g.acct.AccessToken, nil
	}

	endpoint := g.tokenURL
	if endpoint == "" {
		endpoint = googleTokenURL
	}
	form := url.Values{
		"client_id":     {g.svc.clientID},
		"client_secret": {g.svc.clientSecret},
		"refresh_token": {g.acct.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh token (status %d): %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("parse refresh response: %w", err)
	}

	g.acct.AccessToken = tok.AccessToken
	g.acct.TokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := g.svc.accounts.SaveMailAccount(g.acct); err != nil {
		g.svc.logger.Warn("refreshed token not persisted", "user", g.acct.UserID, "error", err)
	}
	return g.acct.AccessToken, nil
}

// call performs one authenticated API request and decodes the JSON
// response into out (skipped when out is nil).
func (g *gmailMailbox) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	tok, err := g.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail API error (status %d): %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// providerQuery renders a SearchQuery as a Gmail search expression.
func providerQuery(q SearchQuery) string {
	var parts []string
	if q.FromAddr != "" {
		parts = append(parts, "from:"+q.FromAddr)
	}
	if q.ToAddr != "" {
		parts = append(parts, "to:"+q.ToAddr)
	}
	if q.Subject != "" {
		parts = append(parts, "subject:"+q.Subject)
	}
	if q.IsUnread != nil {
		if *q.IsUnread {
			parts = append(parts, "is:unread")
		} else {
			parts = append(parts, "is:read")
		}
	}
	if q.DateAfter != "" {
		parts = append(parts, "after:"+q.DateAfter)
	}
	if q.DateBefore != "" {
		parts = append(parts, "before:"+q.DateBefore)
	}
	if q.Query != "" {
		parts = append(parts, q.Query)
	}
	return strings.Join(parts, " ")
}

type messagePayload struct {
	Headers []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePayload `json:"parts"`
}

type messageData struct {
	ID      string         `json:"id"`
	Snippet string         `json:"snippet"`
	Payload messagePayload `json:"payload"`
}

func (p messagePayload) header(name string) string {
	for _, h := range p.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func (m messageData) summary() EmailSummary {
	subject := m.Payload.header("Subject")
	if subject == "" {
		subject = "(No subject)"
	}
	return EmailSummary{
		ID:      m.ID,
		Subject: subject,
		From:    m.Payload.header("From"),
		To:      m.Payload.header("To"),
		Date:    m.Payload.header("Date"),
		Snippet: m.Snippet,
	}
}

// extractBody walks the MIME tree preferring a text/plain part.
func extractBody(p messagePayload) string {
	if p.Body.Data != "" && (p.MimeType == "text/plain" || len(p.Parts) == 0) {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, part := range p.Parts {
		if part.MimeType == "text/plain" {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}
	for _, part := range p.Parts {
		if body := extractBody(part); body != "" {
			return body
		}
	}
	return ""
}

func (g *gmailMailbox) SearchEmails(ctx context.Context, q SearchQuery) ([]EmailSummary, error) {
	max := q.MaxResults
	if max <= 0 {
		max = 10
	}
	path := fmt.Sprintf("/messages?maxResults=%d", max)
	if expr := providerQuery(q); expr != "" {
		path += "&q=" + url.QueryEscape(expr)
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.call(ctx, "GET", path, nil, &list); err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}

	var out []EmailSummary
	for _, m := range list.Messages {
		var msg messageData
		err := g.call(ctx, "GET",
			"/messages/"+m.ID+"?format=metadata&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Subject&metadataHeaders=Date",
			nil, &msg)
		if err != nil {
			return nil, fmt.Errorf("fetch message %s: %w", m.ID, err)
		}
		out = append(out, msg.summary())
	}
	return out, nil
}

func (g *gmailMailbox) ReadEmail(ctx context.Context, id string) (*Email, error) {
	var msg messageData
	if err := g.call(ctx, "GET", "/messages/"+id+"?format=full", nil, &msg); err != nil {
		return nil, fmt.Errorf("read email: %w", err)
	}
	return &Email{EmailSummary: msg.summary(), Body: extractBody(msg.Payload)}, nil
}

// rfc822 assembles a minimal outgoing message in the provider's raw
// format.
func (g *gmailMailbox) rfc822(to, subject, body string) string {
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s", to, subject, body)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(msg))
}

func (g *gmailMailbox) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	payload := map[string]any{"raw": g.rfc822(to, subject, body)}
	if err := g.call(ctx, "POST", "/messages/send", payload, &resp); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return resp.ID, nil
}

func (g *gmailMailbox) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	payload := map[string]any{"message": map[string]any{"raw": g.rfc822(to, subject, body)}}
	if err := g.call(ctx, "POST", "/drafts", payload, &resp); err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return resp.ID, nil
}

func (g *gmailMailbox) MarkAsRead(ctx context.Context, id string) error {
	payload := map[string]any{"removeLabelIds": []string{"UNREAD"}}
	if err := g.call(ctx, "POST", "/messages/"+id+"/modify", payload, nil); err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return nil
}

func (g *gmailMailbox) MarkAsUnread(ctx context.Context, id string) error {
	payload := map[string]any{"addLabelIds": []string{"UNREAD"}}
	if err := g.call(ctx, "POST", "/messages/"+id+"/modify", payload, nil); err != nil {
		return fmt.Errorf("mark as unread: %w", err)
	}
	return nil
}

func (g *gmailMailbox) ListLabels(ctx context.Context) ([]Label, error) {
	var resp struct {
		Labels []Label `json:"labels"`
	}
	if err := g.call(ctx, "GET", "/labels", nil, &resp); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return resp.Labels, nil
}
