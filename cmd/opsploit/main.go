// Package main provides the entry point for the opsploit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opsploit/core/cmd/opsploit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
