package commands

import (
	"fmt"
	"os"

	"github.com/mamaar/vbarefactor/internal/cli"
)

// HelpCommand handles help requests for specific commands
func HelpCommand(args []string) {
	if len(args) == 0 {
		cli.Usage()
		return
	}

	switch args[0] {
	case "move-closer":
		fmt.Println(`Move Closer Command - Move a variable's declaration next to its first use

Usage: vbarefactor move-closer <module> <variable>
       vbarefactor move-closer <module> <line>:<column>

Arguments:
  module     The component declaring the variable (e.g., Module1)
  variable   The variable name, or the position of its declaration or of
             one of its references in module (1-based, code lines only)

The move-closer command will:
  - Insert "Dim <name> As <type>" right before the statement that first
    uses the variable, splitting ":"-separated statements when needed
  - Remove the module qualifier from references such as Module1.counter
  - Delete the original declaration, including from a comma list
  - Refuse variables used in more than one procedure, unused variables,
    and declarations other than plain variables

Examples:
  vbarefactor move-closer Module1 counter
  vbarefactor --dry-run move-closer Module1 3:9
  vbarefactor --json --backup=false move-closer Sheet1 lastRow`)

	case "declarations":
		fmt.Println(`Declarations Command - List declarations

Usage: vbarefactor declarations [module]

Lists every declaration of module, or of all modules when omitted, with its
position, kind, type and number of references. With --verbose the scope and
position of every reference is shown too.

Examples:
  vbarefactor declarations
  vbarefactor --json declarations Module1`)

	case "candidates":
		fmt.Println(`Candidates Command - List variables that can be moved

Usage: vbarefactor candidates

Lists the variables whose references all sit in one procedure other than
the scope declaring them, with the procedure each would move into.

Examples:
  vbarefactor candidates
  vbarefactor --json candidates`)

	case "version":
		VersionCommand([]string{"help"})

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		cli.Usage()
	}
}
