package commands

import (
	"fmt"
	"os"

	"github.com/mamaar/vbarefactor/internal/cli"
)

// CandidateInfo is the JSON form of a candidate.
type CandidateInfo struct {
	DeclarationInfo
	TargetScope string `json:"target_scope"`
}

// CandidatesCommand lists the variables move-closer applies to
func CandidatesCommand(args []string) {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "Error: candidates takes no arguments\n")
		os.Exit(1)
	}

	engine := LoadEngine(nil)
	candidates, err := engine.Candidates(cli.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *cli.GlobalFlags.Json {
		infos := make([]CandidateInfo, 0, len(candidates))
		for _, c := range candidates {
			infos = append(infos, CandidateInfo{DeclarationInfo: describe(c.Declaration), TargetScope: c.TargetScope})
		}
		OutputJSON(infos)
		return
	}

	if len(candidates) == 0 {
		fmt.Println("No variables can be moved closer to their usage.")
		return
	}
	fmt.Printf("Variables used in a single procedure (%d):\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s\n    -> %s\n", FormatDeclaration(c.Declaration), c.TargetScope)
	}
}
