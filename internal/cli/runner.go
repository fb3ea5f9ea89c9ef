package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// CommandFunc represents a command function signature
type CommandFunc func([]string)

// Runner handles command routing and execution
type Runner struct {
	commands map[string]CommandFunc
	aliases  map[string]string
}

// NewRunner creates a new command runner
func NewRunner() *Runner {
	return &Runner{
		commands: make(map[string]CommandFunc),
		aliases:  make(map[string]string),
	}
}

// RegisterCommand registers a command handler under name and any aliases
func (r *Runner) RegisterCommand(name string, fn CommandFunc, aliases ...string) {
	r.commands[name] = fn
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// Lookup resolves a command name or alias.
func (r *Runner) Lookup(command string) (CommandFunc, bool) {
	if name, ok := r.aliases[command]; ok {
		command = name
	}
	fn, ok := r.commands[command]
	return fn, ok
}

// Execute runs the specified command with arguments
func (r *Runner) Execute(command string, args []string) {
	fn, ok := r.Lookup(command)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s (available: %s)\n", command, strings.Join(r.Names(), ", "))
		Usage()
		os.Exit(1)
	}
	fn(args)
}

// Names returns the registered command names in order
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
