// Package mail provides the mailbox abstraction the email sub-agent acts
// on, plus a Gmail REST implementation backed by stored OAuth tokens.
package mail

import (
	"context"
)

// EmailSummary is the metadata projection returned by search.
type EmailSummary struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	To      string `json:"to"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// Email is a full message including its body.
type Email struct {
	EmailSummary
	Body string `json:"body"`
}

// Label is one mailbox label/folder.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SearchQuery expresses a structured mailbox search. Empty fields are
// omitted from the provider query.
type SearchQuery struct {
	FromAddr   string
	ToAddr     string
	Subject    string
	IsUnread   *bool
	DateAfter  string
	DateBefore string
	// Query is an additional free-form provider query appended verbatim.
	Query      string
	MaxResults int
}

// Mailbox is the set of operations the sub-agent can perform. Sending is
// irreversible and gated behind user approval by the agent, not here.
type Mailbox interface {
	SearchEmails(ctx context.Context, q SearchQuery) ([]EmailSummary, error)
	ReadEmail(ctx context.Context, id string) (*Email, error)
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
	CreateDraft(ctx context.Context, to, subject, body string) (string, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAsUnread(ctx context.Context, id string) error
	ListLabels(ctx context.Context) ([]Label, error)
}
