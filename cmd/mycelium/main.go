// Package main provides the entry point for the mycelium CLI.
package main

import (
	"os"

	"github.com/mycelium-run/mycelium/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
