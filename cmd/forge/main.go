package main

import (
	"os"

	"github.com/wonny/forge/cmd/forge/commands"
)

// main is the entry point for the forge CLI: go run ./cmd/forge [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
