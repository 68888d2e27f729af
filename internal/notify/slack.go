package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/deepthinks/deepthinks/internal/config"
)

// SlackMirror posts a one-line rendering of each event into a channel.
// Useful as an operator's live feed of agent activity.
type SlackMirror struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackMirror creates the mirror, or nil when disabled.
func NewSlackMirror(cfg config.SlackMirrorConfig, logger *slog.Logger) *SlackMirror {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.Channel == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackMirror{
		api:     slack.New(cfg.BotToken),
		channel: cfg.Channel,
		logger:  logger,
	}
}

func (m *SlackMirror) Mirror(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("[%s] %s", ev.Room, ev.Name)
	if reason, ok := ev.Data["reasoning"].(string); ok && reason != "" {
		text += ": " + reason
	} else if msg, ok := ev.Data["error"].(string); ok && msg != "" {
		text += ": " + msg
	}

	_, _, err := m.api.PostMessageContext(ctx, m.channel, slack.MsgOptionText(text, false))
	if err != nil {
		m.logger.Warn("slack mirror post failed", "event", ev.Name, "error", err)
	}
}
