// Package main provides the entry point for the diffview CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/diffview/cmd/diffview/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
