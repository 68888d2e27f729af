package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/store"
)

var (
	memoryUserID    string
	memorySessionID string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect a session's memory state",
	Run:   runMemory,
}

func init() {
	memoryCmd.Flags().StringVarP(&memoryUserID, "user", "u", "cli", "User ID")
	memoryCmd.Flags().StringVarP(&memorySessionID, "session", "s", "cli:default", "Session ID")
}

func runMemory(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := store.New(filepath.Join(cfg.Paths.DataDir, "deepthinks.db"))
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stats only; no summarizer needed for inspection.
	mem := memory.NewManager(cfg.Memory, nil, db, logger)
	stats := mem.Stats(memoryUserID, memorySessionID)

	printHeader("🧠 Memory State")
	fmt.Printf("User:              %s\n", memoryUserID)
	fmt.Printf("Session:           %s\n", memorySessionID)
	fmt.Printf("Buffered:          %d interactions\n", stats.BufferSize)
	fmt.Printf("Estimated tokens:  %.0f\n", stats.EstimatedTokens)
	if stats.HasSummary {
		color.Green("Summary:           %d entries", stats.SummaryEntries)
	} else {
		fmt.Println("Summary:           none")
	}
}
