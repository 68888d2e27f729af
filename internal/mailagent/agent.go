// Package mailagent runs the email management sub-agent: a bounded
// state machine that authenticates the user's mailbox, decides whether it
// needs conversation context, then iterates mailbox actions until the
// task completes or a bound is hit.
package mailagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepthinks/deepthinks/internal/approval"
	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/mail"
	"github.com/deepthinks/deepthinks/internal/provider"
	"github.com/deepthinks/deepthinks/internal/store"
)

// State is the sub-agent's lifecycle phase.
type State string

const (
	StateInit       State = "INIT"
	StateNeedsAuth  State = "NEEDS_AUTH"
	StateDecision   State = "DECISION"
	StateActionLoop State = "ACTION_LOOP"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
	StateTimedOut   State = "TIMED_OUT"
)

// Events emitted to the conversation's notification room while the agent
// runs. External clients render these in real time.
const (
	EventNeedsAuth       = "email_tool_needs_auth"
	EventProgress        = "email_tool_progress"
	EventRequestApproval = "email_tool_request_approval"
	EventCompleted       = "email_tool_completed"
	EventError           = "email_tool_error"
)

var errAuthTimeout = errors.New("mailbox authentication timed out")

// MailboxSource resolves a user's mailbox. mail.Service satisfies it.
type MailboxSource interface {
	Connected(userID string) bool
	MailboxFor(ctx context.Context, userID string) (mail.Mailbox, error)
}

// Directory is the slice of the store the agent reads: conversation
// history, the user's identity, and the connected account.
type Directory interface {
	RecentMessages(userID, sessionID string, limit int) ([]store.ChatMessage, error)
	UserSettingsFor(userID string) (*store.UserSettings, error)
	MailAccountFor(userID string) (*store.MailAccount, bool, error)
}

// Approvals gates irreversible actions. approval.Manager satisfies it.
type Approvals interface {
	Create(req *approval.Request) string
	Wait(ctx context.Context, id string) (bool, error)
}

// Emitter delivers events to the conversation's room. Callers bind the
// room before handing the emitter to the agent.
type Emitter interface {
	Emit(event string, data map[string]any)
}

// Outcome is what a finished run hands back to the orchestrating tool:
// the terminal state, the structured result for the main chat model, and
// the full scratchpad.
type Outcome struct {
	State      State
	Result     map[string]any
	Iterations []IterationRecord
}

// Agent executes one email management request end to end.
type Agent struct {
	userID    string
	sessionID string
	query     string

	cfg       config.MailAgentConfig
	llm       provider.LLMProvider
	model     string
	mailboxes MailboxSource
	directory Directory
	approvals Approvals
	emitter   Emitter
	handle    *events.Handle
	logger    *slog.Logger

	// clock is injectable for date-sensitive prompt tests.
	clock func() time.Time

	mailbox    mail.Mailbox
	userEmail  string
	userName   string
	history    []provider.Message
	scratchpad []IterationRecord
}

// Params collects the collaborators a run needs.
type Params struct {
	UserID    string
	SessionID string
	Query     string
	Config    config.MailAgentConfig
	LLM       provider.LLMProvider
	Model     string
	Mailboxes MailboxSource
	Directory Directory
	Approvals Approvals
	Emitter   Emitter
	Handle    *events.Handle
	Logger    *slog.Logger
}

// New creates an agent for one request. Handle must come from the events
// registry so external callbacks can reach this run.
func New(p Params) *Agent {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		userID:    p.UserID,
		sessionID: p.SessionID,
		query:     p.Query,
		cfg:       p.Config,
		llm:       p.LLM,
		model:     p.Model,
		mailboxes: p.Mailboxes,
		directory: p.Directory,
		approvals: p.Approvals,
		emitter:   p.Emitter,
		handle:    p.Handle,
		logger:    logger,
		clock:     time.Now,
	}
}

// Run drives the state machine to a terminal state. It always emits a
// completion event with the structured result, whatever the outcome.
func (a *Agent) Run(ctx context.Context) *Outcome {
	out := a.run(ctx)
	if errMsg, ok := out.Result["error"].(string); ok && out.State != StateComplete {
		a.emit(EventError, map[string]any{"error": errMsg})
	}
	a.emit(EventCompleted, map[string]any{"result": out.Result})
	return out
}

func (a *Agent) run(ctx context.Context) *Outcome {
	a.logger.Info("mail agent starting", "user", a.userID, "session", a.sessionID)

	if !a.mailboxes.Connected(a.userID) {
		a.emit(EventNeedsAuth, map[string]any{
			"message": "Please connect your mailbox to continue.",
		})
		if err := a.waitForAuth(ctx); err != nil {
			if errors.Is(err, errAuthTimeout) {
				return &Outcome{State: StateTimedOut, Result: map[string]any{
					"success":    false,
					"error":      errAuthTimeout.Error(),
					"needs_auth": true,
				}}
			}
			return a.failed(fmt.Sprintf("cancelled while waiting for mailbox authorization: %v", err))
		}
	}

	mailbox, err := a.mailboxes.MailboxFor(ctx, a.userID)
	if err != nil {
		return a.failed(fmt.Sprintf("mailbox unavailable: %v", err))
	}
	a.mailbox = mailbox
	a.loadIdentity()

	if err := a.decide(ctx); err != nil {
		return a.failed(err.Error())
	}

	return a.actionLoop(ctx)
}

// waitForAuth blocks until authorization is delivered through the run
// handle, the stored-account predicate flips true, or the bounded wait
// expires. The predicate re-check covers auth flows that finish without
// ever reaching the websocket callback.
func (a *Agent) waitForAuth(ctx context.Context) error {
	deadline := time.NewTimer(a.cfg.AuthWait())
	defer deadline.Stop()
	recheck := time.NewTicker(time.Second)
	defer recheck.Stop()

	for {
		select {
		case <-a.handle.AuthResolved():
			a.logger.Info("mailbox authorization resolved", "user", a.userID)
			return nil
		case <-recheck.C:
			if a.mailboxes.Connected(a.userID) {
				a.logger.Info("mailbox authorization detected", "user", a.userID)
				return nil
			}
		case <-deadline.C:
			a.logger.Warn("mailbox authorization wait expired", "user", a.userID)
			return errAuthTimeout
		case <-a.handle.Cancelled():
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// loadIdentity is best-effort: prompts degrade gracefully when the email
// or name is unknown.
func (a *Agent) loadIdentity() {
	if acct, ok, err := a.directory.MailAccountFor(a.userID); err == nil && ok {
		a.userEmail = acct.Email
	}
	if settings, err := a.directory.UserSettingsFor(a.userID); err == nil {
		a.userName = settings.Name
	}
}

// decide is iteration 1: one schema-constrained call deciding whether the
// query references earlier conversation. It never enters the scratchpad.
func (a *Agent) decide(ctx context.Context) error {
	resp, err := a.llm.Chat(ctx, &provider.ChatRequest{
		Model: a.model,
		Messages: []provider.Message{
			{Role: "system", Content: decisionSystemPrompt},
			{Role: "user", Content: decisionUserPrompt(a.query)},
		},
		MaxTokens:      512,
		Temperature:    0.3,
		ResponseFormat: provider.JSONSchemaFormat(decisionSchema()),
	})
	if err != nil {
		return fmt.Errorf("decision call failed: %w", err)
	}

	var decision decisionOutput
	if err := parseJSON(resp.Content, &decision); err != nil {
		return fmt.Errorf("decision output unreadable: %w", err)
	}
	a.emit(EventProgress, map[string]any{"iteration": 1, "reasoning": decision.Reasoning})
	a.logger.Info("decision", "needs_history", decision.NeedsConversationHistory)

	if decision.NeedsConversationHistory {
		msgs, err := a.directory.RecentMessages(a.userID, a.sessionID, 2*a.cfg.HistoryExchanges)
		if err != nil {
			a.logger.Warn("conversation history unavailable", "error", err)
			return nil
		}
		for _, m := range msgs {
			a.history = append(a.history, provider.Message{Role: m.Role, Content: m.Content})
		}
	}
	return nil
}

// actionLoop is iterations 2..max: one function call or exit per step.
func (a *Agent) actionLoop(ctx context.Context) *Outcome {
	for iteration := 2; iteration <= a.cfg.MaxIterations; iteration++ {
		select {
		case <-a.handle.Cancelled():
			return a.cancelled()
		case <-ctx.Done():
			return a.cancelled()
		default:
		}

		pc := buildPromptContext(a.clock().UTC(), a.userEmail, a.userName)
		resp, err := a.llm.Chat(ctx, &provider.ChatRequest{
			Model: a.model,
			Messages: []provider.Message{
				{Role: "system", Content: actionSystem(pc)},
				{Role: "user", Content: actionUserPrompt(a.query, a.history, a.scratchpad, iteration, pc)},
			},
			MaxTokens:      1024,
			Temperature:    0.3,
			ResponseFormat: provider.JSONSchemaFormat(actionSchema()),
		})
		if err != nil {
			return a.failed(fmt.Sprintf("action call failed: %v", err))
		}
		var action actionOutput
		if err := parseJSON(resp.Content, &action); err != nil {
			return a.failed(fmt.Sprintf("action output unreadable: %v", err))
		}

		a.emit(EventProgress, map[string]any{"iteration": iteration, "reasoning": action.Reasoning})

		if action.Function == nil {
			a.logger.Info("mail agent complete", "iteration", iteration)
			a.scratchpad = append(a.scratchpad, IterationRecord{
				Iteration: iteration,
				Reasoning: action.Reasoning,
				Result:    map[string]any{"success": true},
			})
			return &Outcome{
				State:      StateComplete,
				Iterations: a.scratchpad,
				Result: map[string]any{
					"success":          true,
					"summary":          action.Reasoning,
					"total_iterations": iteration,
					"iterations":       formatIterations(a.scratchpad),
					"final_reasoning":  action.Reasoning,
				},
			}
		}

		if *action.Function == "send_email" {
			approved := a.requestApproval(ctx, action)
			if !approved {
				return &Outcome{
					State:      StateFailed,
					Iterations: a.scratchpad,
					Result: map[string]any{
						"success":   false,
						"message":   "User rejected email sending",
						"cancelled": true,
					},
				}
			}
		}

		result := a.execute(ctx, *action.Function, action.Parameters)
		a.scratchpad = append(a.scratchpad, IterationRecord{
			Iteration:  iteration,
			Reasoning:  action.Reasoning,
			Function:   *action.Function,
			Parameters: action.Parameters,
			Result:     result,
		})
	}

	a.logger.Warn("mail agent hit iteration cap", "max", a.cfg.MaxIterations)
	return &Outcome{
		State:      StateFailed,
		Iterations: a.scratchpad,
		Result: map[string]any{
			"success": false,
			"error":   "max iterations reached",
			"message": "Email tool took too many steps. Please try a simpler request.",
		},
	}
}

// requestApproval asks the user to confirm an irreversible action. No
// answer within the bounded wait counts as a rejection.
func (a *Agent) requestApproval(ctx context.Context, action actionOutput) bool {
	id := a.approvals.Create(&approval.Request{
		UserID:    a.userID,
		SessionID: a.sessionID,
		Action:    *action.Function,
		Arguments: action.Parameters,
	})
	a.emit(EventRequestApproval, map[string]any{
		"approval_id": id,
		"operation":   *action.Function,
		"parameters":  action.Parameters,
		"reasoning":   action.Reasoning,
	})

	wctx, cancel := context.WithTimeout(ctx, a.cfg.ApprovalWait())
	defer cancel()
	approved, err := a.approvals.Wait(wctx, id)
	if err != nil {
		a.logger.Warn("approval wait ended without decision", "error", err)
		return false
	}
	return approved
}

// execute dispatches one mailbox function. Failures become failed result
// maps so the loop can show them to the model instead of aborting.
func (a *Agent) execute(ctx context.Context, function string, params map[string]any) map[string]any {
	params = normalizeParams(function, params)
	a.logger.Info("executing mailbox function", "function", function)

	data, err := a.dispatch(ctx, function, params)
	if err != nil {
		a.logger.Warn("mailbox function failed", "function", function, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{"success": true, "result": toGeneric(data)}
}

func (a *Agent) dispatch(ctx context.Context, function string, params map[string]any) (any, error) {
	switch function {
	case "search_emails":
		q := mail.SearchQuery{
			FromAddr:   strParam(params, "from_addr"),
			ToAddr:     strParam(params, "to_addr"),
			Subject:    strParam(params, "subject"),
			DateAfter:  strParam(params, "date_after"),
			DateBefore: strParam(params, "date_before"),
			Query:      strParam(params, "query"),
			MaxResults: intParam(params, "max_results"),
		}
		if unread, ok := boolParam(params, "is_unread"); ok {
			q.IsUnread = &unread
		}
		return a.mailbox.SearchEmails(ctx, q)
	case "read_email":
		return a.mailbox.ReadEmail(ctx, strParam(params, "email_id"))
	case "send_email":
		id, err := a.mailbox.SendEmail(ctx, strParam(params, "to"), strParam(params, "subject"), strParam(params, "body"))
		return map[string]any{"message_id": id}, err
	case "create_draft":
		id, err := a.mailbox.CreateDraft(ctx, strParam(params, "to"), strParam(params, "subject"), strParam(params, "body"))
		return map[string]any{"draft_id": id}, err
	case "mark_as_read":
		return map[string]any{"marked": "read"}, a.mailbox.MarkAsRead(ctx, strParam(params, "email_id"))
	case "mark_as_unread":
		return map[string]any{"marked": "unread"}, a.mailbox.MarkAsUnread(ctx, strParam(params, "email_id"))
	case "list_labels":
		return a.mailbox.ListLabels(ctx)
	default:
		return nil, fmt.Errorf("unknown function: %s", function)
	}
}

func (a *Agent) failed(msg string) *Outcome {
	return &Outcome{
		State:      StateFailed,
		Iterations: a.scratchpad,
		Result:     map[string]any{"success": false, "error": msg},
	}
}

func (a *Agent) cancelled() *Outcome {
	return &Outcome{
		State:      StateFailed,
		Iterations: a.scratchpad,
		Result:     map[string]any{"success": false, "error": "cancelled", "cancelled": true},
	}
}

func (a *Agent) emit(event string, data map[string]any) {
	if a.emitter != nil {
		a.emitter.Emit(event, data)
	}
}

func formatIterations(records []IterationRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		entry := map[string]any{
			"iteration": rec.Iteration,
			"reasoning": rec.Reasoning,
			"result":    rec.Result,
		}
		if rec.Function != "" {
			entry["function"] = rec.Function
			entry["parameters"] = rec.Parameters
		}
		out = append(out, entry)
	}
	return out
}

// toGeneric reduces typed mailbox results to plain JSON values so the
// scratchpad and the final result serialize uniformly.
func toGeneric(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}
