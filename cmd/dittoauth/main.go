package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittoauth/cmd/dittoauth/commands"

	// Mechanisms linked into the binary register themselves on import.
	_ "github.com/marmos91/dittoauth/pkg/auth/mechanisms/jwt"
	_ "github.com/marmos91/dittoauth/pkg/auth/mechanisms/krb5"
	_ "github.com/marmos91/dittoauth/pkg/auth/mechanisms/none"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittoauth/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags
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
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
