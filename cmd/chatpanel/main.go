// Package main provides the entry point for the chatpanel CLI.
package main

import (
	"fmt"
	"os"

	"github.com/chatpanel-ai/chatpanel/cmd/chatpanel/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
