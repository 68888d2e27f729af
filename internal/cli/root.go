// Package cli implements the deepthinks command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/deepthinks/deepthinks/internal/cli.version=1.2.3"
	version = "1.4.0"
	logo    = "\n" +
		"     _                 _   _     _       _\n" +
		"  __| | ___  ___ _ __ | |_| |__ (_)_ __ | | _____\n" +
		" / _` |/ _ \\/ _ \\ '_ \\| __| '_ \\| | '_ \\| |/ / __|\n" +
		"| (_| |  __/  __/ |_) | |_| | | | | | | |   <\\__ \\\n" +
		" \\__,_|\\___|\\___| .__/ \\__|_| |_|_|_| |_|_|\\_\\___/\n" +
		"                |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "deepthinks",
	Short: "Deepthinks - conversational agent server",
	Long:  color.CyanString(logo) + "\nA conversational agent with token-aware memory, tool use, and an email sub-agent.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memoryCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deepthinks %s\n", version)
	},
}

func printHeader(title string) {
	color.Cyan("%s", title)
	fmt.Println()
}
