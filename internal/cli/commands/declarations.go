package commands

import (
	"fmt"
	"os"

	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// DeclarationsCommand lists the declarations of a module or the project
func DeclarationsCommand(args []string) {
	if len(args) > 1 {
		fmt.Fprintf(os.Stderr, "Error: declarations takes at most 1 argument: [module]\n")
		os.Exit(1)
	}
	module := ""
	if len(args) == 1 {
		module = args[0]
	}

	engine := LoadEngine(nil)
	decls, err := engine.Declarations(cli.Context(), module)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var shown []*types.Declaration
	for _, d := range decls {
		if d.Kind != types.ModuleDeclaration {
			shown = append(shown, d)
		}
	}

	if *cli.GlobalFlags.Json {
		infos := make([]DeclarationInfo, 0, len(shown))
		for _, d := range shown {
			infos = append(infos, describe(d))
		}
		OutputJSON(infos)
		return
	}

	if len(shown) == 0 {
		fmt.Println("No declarations found.")
		return
	}
	for _, d := range shown {
		fmt.Println(FormatDeclaration(d))
		if *cli.GlobalFlags.Verbose {
			for _, ref := range d.References {
				fmt.Printf("    used in %s at %s\n", ref.ParentScoping, ref.Selection)
			}
		}
	}
}
