// Package main is the entry point for the fuel-pricing CLI.
package main

import (
	"os"

	"fuel-pricing/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
