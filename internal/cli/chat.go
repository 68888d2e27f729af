package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deepthinks/deepthinks/internal/approval"
	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/loop"
	"github.com/deepthinks/deepthinks/internal/mail"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/provider"
	"github.com/deepthinks/deepthinks/internal/store"
	"github.com/deepthinks/deepthinks/internal/tools"
)

var (
	chatMessage   string
	chatSessionID string
	chatMode      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run one chat turn in the terminal",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Message to send")
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "cli:default", "Session ID")
	chatCmd.Flags().StringVar(&chatMode, "mode", "default", "Response mode: default, reason, or code")
}

// terminalSink renders the turn's envelope events for a terminal.
type terminalSink struct{}

func (terminalSink) Token(token, mode string) { fmt.Print(token) }

func (terminalSink) ToolCall(toolName, mode string) {
	color.Yellow("\n⚙ calling %s...", toolName)
}

func (terminalSink) MemoryStats(stats memory.Stats, mode string) {
	dim := color.New(color.Faint)
	dim.Printf("\n\n[memory: %d buffered, ~%.0f tokens", stats.BufferSize, stats.EstimatedTokens)
	if stats.HasSummary {
		dim.Printf(", %d summarized", stats.SummaryEntries)
	}
	dim.Println("]")
}

func (terminalSink) Error(message, mode string) {
	color.Red("\n%s", message)
}

func (terminalSink) Done(mode string) { fmt.Println() }

func runChat(cmd *cobra.Command, args []string) {
	if chatMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("🧠 Deepthinks")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		fmt.Printf("Data dir error: %v\n", err)
		os.Exit(1)
	}
	db, err := store.New(filepath.Join(cfg.Paths.DataDir, "deepthinks.db"))
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	llm := provider.NewTogetherProvider(cfg.Providers.Together.APIKey, cfg.Providers.Together.APIBase, cfg.Models.Default)
	mem := memory.NewManager(cfg.Memory, memory.NewLLMSummarizer(llm, cfg.Models.Summarizer), db, logger)
	mailboxes := mail.NewService(db, cfg.Providers.Google.ClientID, cfg.Providers.Google.ClientSecret, logger)

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewSearchWebTool(
		cfg.Providers.Search.APIKey, cfg.Providers.Search.APIBase,
		cfg.Tools.ResultTopN, cfg.Tools.ResultContentChars, db, logger))
	toolReg.Register(tools.NewManageEmailTool(tools.ManageEmailParams{
		Config:    cfg.MailAgent,
		LLM:       llm,
		Model:     cfg.Models.MailAgent,
		Mailboxes: mailboxes,
		Directory: db,
		Approvals: approval.NewManager(db),
		Registry:  events.NewRegistry(),
		Logger:    logger,
	}))

	runner := loop.NewRunner(loop.Params{
		LLM:          llm,
		Tools:        toolReg,
		Memory:       mem,
		History:      db,
		MaxToolCalls: cfg.Tools.MaxToolCallsPerInteraction,
		Logger:       logger,
	})

	mode := chatMode
	settings, err := db.UserSettingsFor("cli")
	if err != nil {
		fmt.Printf("Settings error: %v\n", err)
		os.Exit(1)
	}

	_, err = runner.Run(context.Background(), loop.Request{
		UserID:      "cli",
		SessionID:   chatSessionID,
		Prompt:      chatMessage,
		Mode:        mode,
		Model:       cfg.Models.ForMode(mode),
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		UserName:    settings.Name,
		Persona:     settings.Persona,
	}, terminalSink{})
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
