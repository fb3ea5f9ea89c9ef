package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/pkg/refactor"
)

// MoveCloserResult is the JSON output of move-closer.
type MoveCloserResult struct {
	AttemptID   string   `json:"attempt_id"`
	Declaration string   `json:"declaration"`
	State       string   `json:"state"`
	Module      string   `json:"module"`
	Line        int      `json:"line"`
	Unqualified int      `json:"unqualified"`
	DryRun      bool     `json:"dry_run"`
	Written     []string `json:"written,omitempty"`
	Diff        string   `json:"diff"`
	Error       string   `json:"error,omitempty"`
}

// MoveCloserCommand moves a variable's declaration next to its first use
func MoveCloserCommand(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "Error: move-closer requires 2 arguments: <module> <variable|line:column>\n")
		fmt.Fprintf(os.Stderr, "Usage: vbarefactor move-closer Module1 counter\n")
		os.Exit(1)
	}
	req, err := ParseTarget(args[0], args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine := LoadEngine(&refactor.CollectingNotifier{})
	outcome, err := engine.MoveCloserToUsage(cli.Context(), req)
	if outcome == nil {
		fmt.Fprintf(os.Stderr, "%s\n", ErrorMessage(err))
		os.Exit(1)
	}

	diff, derr := engine.PreviewChanges()
	if derr != nil {
		fmt.Fprintf(os.Stderr, "Error generating preview: %v\n", derr)
		os.Exit(1)
	}

	result := MoveCloserResult{
		AttemptID:   outcome.AttemptID,
		Declaration: outcome.Declaration,
		State:       outcome.State.String(),
		Module:      outcome.Relocation.Module.ComponentName,
		Line:        outcome.Relocation.Insertion.StartLine,
		DryRun:      *cli.GlobalFlags.DryRun,
		Diff:        diff,
	}
	if outcome.Rewrite != nil {
		result.Unqualified = outcome.Rewrite.Unqualified
	}
	if err != nil {
		// The insertion is in place but the cleanup did not run; nothing is
		// written.
		result.Error = err.Error()
		report(result)
		os.Exit(1)
	}

	if !result.DryRun {
		written, err := engine.SaveWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving modules: %v\n", err)
			os.Exit(1)
		}
		result.Written = written
	}
	report(result)
}

func report(result MoveCloserResult) {
	if *cli.GlobalFlags.Json {
		OutputJSON(result)
		return
	}

	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Refactoring of %s did not finish: %s\n", result.Declaration, result.Error)
	} else {
		fmt.Printf("Moved %s into %s at line %d", result.Declaration, result.Module, result.Line)
		if result.Unqualified > 0 {
			fmt.Printf(", removed %d module qualifiers", result.Unqualified)
		}
		fmt.Println()
	}
	if result.DryRun || result.Error != "" || *cli.GlobalFlags.Verbose {
		fmt.Printf("\n%s", result.Diff)
	}
	if result.DryRun {
		fmt.Println("\nDry run mode - no changes were written")
		return
	}
	for _, path := range result.Written {
		if rel, err := filepath.Rel(*cli.GlobalFlags.Workspace, path); err == nil {
			path = rel
		}
		fmt.Printf("  wrote %s\n", path)
	}
}
