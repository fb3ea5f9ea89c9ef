package main

import (
	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/internal/cli/commands"
)

func main() {
	app := cli.NewApp()
	app.Initialize()
	defer cli.Stop()

	runner := cli.NewRunner()
	runner.RegisterCommand("move-closer", commands.MoveCloserCommand, "mcu")
	runner.RegisterCommand("declarations", commands.DeclarationsCommand)
	runner.RegisterCommand("candidates", commands.CandidatesCommand)
	runner.RegisterCommand("help", commands.HelpCommand)
	runner.RegisterCommand("version", commands.VersionCommand)

	app.Run(runner)
}
