// Package main is the entry point for the deepthinks CLI.
package main

import (
	"os"

	"github.com/deepthinks/deepthinks/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
