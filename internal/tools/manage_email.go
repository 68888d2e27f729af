package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/mailagent"
	"github.com/deepthinks/deepthinks/internal/provider"
)

// RoomNotifier delivers real-time events to a named room. The notify hub
// satisfies it.
type RoomNotifier interface {
	Emit(room, event string, data map[string]any)
}

// MailRoom returns the notification room for a conversation's email runs.
func MailRoom(userID, sessionID string) string {
	return fmt.Sprintf("email_tool_%s_%s", userID, sessionID)
}

// roomEmitter binds a notifier to one conversation's room.
type roomEmitter struct {
	room     string
	notifier RoomNotifier
}

func (e roomEmitter) Emit(event string, data map[string]any) {
	if e.notifier != nil {
		e.notifier.Emit(e.room, event, data)
	}
}

// ManageEmailTool runs the email sub-agent for one query. One run per
// conversation at a time; a concurrent second call is refused.
type ManageEmailTool struct {
	cfg       config.MailAgentConfig
	llm       provider.LLMProvider
	model     string
	mailboxes mailagent.MailboxSource
	directory mailagent.Directory
	approvals mailagent.Approvals
	registry  *events.Registry
	notifier  RoomNotifier
	logger    *slog.Logger
}

// ManageEmailParams collects the sub-agent's collaborators.
type ManageEmailParams struct {
	Config    config.MailAgentConfig
	LLM       provider.LLMProvider
	Model     string
	Mailboxes mailagent.MailboxSource
	Directory mailagent.Directory
	Approvals mailagent.Approvals
	Registry  *events.Registry
	Notifier  RoomNotifier
	Logger    *slog.Logger
}

// NewManageEmailTool creates the email management tool.
func NewManageEmailTool(p ManageEmailParams) *ManageEmailTool {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ManageEmailTool{
		cfg:       p.Config,
		llm:       p.LLM,
		model:     p.Model,
		mailboxes: p.Mailboxes,
		directory: p.Directory,
		approvals: p.Approvals,
		registry:  p.Registry,
		notifier:  p.Notifier,
		logger:    logger,
	}
}

func (t *ManageEmailTool) Name() string { return "manage_email" }

func (t *ManageEmailTool) Description() string {
	return "Manage the user's mailbox: search, read, send, draft, mark read/unread, list labels. Pass the user's request as the query."
}

// Execute registers the run, drives the sub-agent to a terminal state,
// and hands the structured result back as the essential projection.
func (t *ManageEmailTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	handle, err := t.registry.Begin(inv.UserID, inv.SessionID)
	if err != nil {
		if errors.Is(err, events.ErrBusy) {
			return Failed("an email task is already running for this conversation"), nil
		}
		return nil, err
	}
	defer handle.Close()

	agent := mailagent.New(mailagent.Params{
		UserID:    inv.UserID,
		SessionID: inv.SessionID,
		Query:     inv.Query,
		Config:    t.cfg,
		LLM:       t.llm,
		Model:     t.model,
		Mailboxes: t.mailboxes,
		Directory: t.directory,
		Approvals: t.approvals,
		Emitter:   roomEmitter{room: MailRoom(inv.UserID, inv.SessionID), notifier: t.notifier},
		Handle:    handle,
		Logger:    t.logger,
	})

	out := agent.Run(ctx)
	t.logger.Info("email run finished", "user", inv.UserID, "session", inv.SessionID, "state", string(out.State))

	res := &Result{Essential: out.Result}
	res.Success = out.State == mailagent.StateComplete
	if !res.Success {
		if msg, ok := out.Result["error"].(string); ok {
			res.Error = msg
		} else if msg, ok := out.Result["message"].(string); ok {
			res.Error = msg
		}
	}
	return res, nil
}
