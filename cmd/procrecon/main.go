// Command procrecon reconciles per-run process-instance candidates into a
// durable SQLite store and writes per-run reports.
//
// Usage:
//
//	procrecon reconcile --catalog catalog.yaml ./runs/2026-03-01
//	procrecon show '["recruiting","Acme","AI Engineer",""]'
//	procrecon health --catalog catalog.yaml
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/procrecon/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// Usage errors from cobra: bad flags or arguments.
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(cli.ExitCommandError)
		}
		if !exitErr.Reported() {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitErr.Code)
	}
}
