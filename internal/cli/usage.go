package cli

import (
	"flag"
	"fmt"
	"os"
)

// Usage prints the usage information for the vbarefactor command
func Usage() {
	fmt.Fprintf(os.Stderr, `VBARefactor - Move VBA variable declarations closer to their usage

Usage: vbarefactor [options] <command> [arguments]

Commands:
  move-closer <module> <variable>
  move-closer <module> <line>:<column>   (alias: mcu)
    Move a variable's declaration right before its first use and remove
    the module qualifier from references to it

  declarations [module]
    List the declarations of one module or of the whole project

  candidates
    List the variables that are only used inside one other procedure

  help [command]
    Show help for a specific command

  version
    Show version information

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
The workspace is a directory of exported components (.bas, .cls, .frm).
Settings are read from .vbarefactor.yaml in the workspace when present.

Examples:
  # Move Module1's counter next to the procedure that uses it
  vbarefactor move-closer Module1 counter

  # Same, selecting the variable by position and only previewing
  vbarefactor --dry-run move-closer Module1 3:9

  # List every candidate as JSON
  vbarefactor --json candidates
`)
}
