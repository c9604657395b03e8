package main

import (
	"fmt"
	"os"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/commands"

	// Import prometheus metrics to register the init() constructor.
	_ "github.com/pgbasebackup/agent/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
