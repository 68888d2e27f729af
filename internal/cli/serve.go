package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepthinks/deepthinks/internal/approval"
	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/loop"
	"github.com/deepthinks/deepthinks/internal/mail"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/monitor"
	"github.com/deepthinks/deepthinks/internal/notify"
	"github.com/deepthinks/deepthinks/internal/provider"
	"github.com/deepthinks/deepthinks/internal/server"
	"github.com/deepthinks/deepthinks/internal/store"
	"github.com/deepthinks/deepthinks/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🧠 Deepthinks Server")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

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
	summarizer := memory.NewLLMSummarizer(llm, cfg.Models.Summarizer)
	mem := memory.NewManager(cfg.Memory, summarizer, db, logger)

	registry := events.NewRegistry()
	approvals := approval.NewManager(db)
	mailboxes := mail.NewService(db, cfg.Providers.Google.ClientID, cfg.Providers.Google.ClientSecret, logger)

	var mirrors []notify.Mirror
	if m := notify.NewSlackMirror(cfg.Notify.Slack, logger); m != nil {
		mirrors = append(mirrors, m)
		logger.Info("slack mirror enabled", "channel", cfg.Notify.Slack.Channel)
	}
	var kafkaMirror *notify.KafkaMirror
	if kafkaMirror = notify.NewKafkaMirror(cfg.Notify.Kafka, logger); kafkaMirror != nil {
		mirrors = append(mirrors, kafkaMirror)
		defer kafkaMirror.Close()
		logger.Info("kafka mirror enabled", "topic", cfg.Notify.Kafka.Topic)
	}
	hub := notify.NewHub(logger, mirrors...)
	gateway := notify.NewGateway(hub, server.CallbackHandler(approvals, registry, logger), logger)

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
		Approvals: approvals,
		Registry:  registry,
		Notifier:  hub,
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(monitor.Params{
		Timeout: time.Duration(cfg.Server.InactivityShutdownMinutes) * time.Minute,
		OnIdle:  stop,
		Logger:  logger,
	})

	srv := server.New(server.Params{
		Config:   cfg.Server,
		Models:   cfg.Models,
		Runner:   runner,
		Accounts: db,
		Memory:   mem,
		Gateway:  gateway,
		Logger:   logger,
		Activity: mon.Touch,
	})
	mon.Start(ctx)
	defer mon.Stop()

	httpSrv := &http.Server{Addr: cfg.Server.Listen, Handler: srv}
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}
