// Package main is the entry point for the titan CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes surfaced by every subcommand.
const (
	exitOK              = 0
	exitUserError       = 1
	exitPolicyDenial    = 2
	exitApprovalTimeout = 3
	exitInternal        = 4
)

func init() {
	// Load .env so per-connector credential env vars are available without
	// exporting them in the shell.
	_ = godotenv.Load()
}

func main() {
	cli := &CLI{}
	parser := kong.Must(cli,
		kong.Name("titan"),
		kong.Description("Local-first autonomous agent runtime."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case titanerr.Is(err, titanerr.KindApproval) && containsTimeout(err):
		return exitApprovalTimeout
	case titanerr.Is(err, titanerr.KindPolicy), titanerr.Is(err, titanerr.KindApproval):
		return exitPolicyDenial
	case titanerr.Is(err, titanerr.KindValidation), titanerr.Is(err, titanerr.KindNotFound), titanerr.Is(err, titanerr.KindConflict):
		return exitUserError
	default:
		return exitInternal
	}
}

func containsTimeout(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "approval_timeout") || strings.Contains(err.Error(), "timed out"))
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
