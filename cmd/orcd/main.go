// Package main provides the entry point for the orcd daemon.
package main

import (
	"os"

	"github.com/randalmurphal/orc-core/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
