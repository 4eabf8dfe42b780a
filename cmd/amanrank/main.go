// Package main provides the entry point for the amanrank CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanrank/cmd/amanrank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
