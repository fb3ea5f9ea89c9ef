package commands

import (
	"fmt"

	"github.com/mamaar/vbarefactor/internal/cli"
)

// VersionCommand handles the version command
func VersionCommand(args []string) {
	if len(args) > 0 {
		fmt.Println(`Version Command - Show application version

Usage: vbarefactor version

Shows the current version of vbarefactor.`)
		return
	}

	cli.ShowVersion()
}
