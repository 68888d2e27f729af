package server

import (
	"log/slog"

	"github.com/deepthinks/deepthinks/internal/approval"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/notify"
)

// CallbackHandler routes inbound websocket events to the agent run they
// unblock: approval decisions and mailbox OAuth completion.
func CallbackHandler(approvals *approval.Manager, registry *events.Registry, logger *slog.Logger) notify.InboundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event string, data map[string]any) {
		switch event {
		case "email_tool_user_approved":
			approvalID, _ := data["approval_id"].(string)
			approved, _ := data["approved"].(bool)
			if approvalID == "" {
				logger.Warn("approval event without approval_id")
				return
			}
			if err := approvals.Respond(approvalID, approved); err != nil {
				logger.Warn("approval response dropped", "approval_id", approvalID, "error", err)
				return
			}
			logger.Info("approval delivered", "approval_id", approvalID, "approved", approved)

		case "email_tool_auth_completed":
			userID, _ := data["user_id"].(string)
			sessionID, _ := data["session_id"].(string)
			success := true
			if v, ok := data["success"].(bool); ok {
				success = v
			}
			handle, ok := registry.Lookup(userID, sessionID)
			if !ok {
				logger.Warn("auth callback with no active run", "user", userID, "session", sessionID)
				return
			}
			if success {
				handle.ResolveAuth()
			} else {
				// A failed OAuth flow will never connect the mailbox, so the
				// run is told to stop instead of idling out its auth wait.
				handle.Cancel()
			}
			logger.Info("auth callback delivered", "user", userID, "session", sessionID, "success", success)

		default:
			logger.Debug("unhandled inbound event", "event", event)
		}
	}
}
