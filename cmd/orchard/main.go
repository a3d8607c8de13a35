// Package main provides the entry point for the orchard CLI.
package main

import (
	"os"

	"github.com/orchard-dev/orchard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
