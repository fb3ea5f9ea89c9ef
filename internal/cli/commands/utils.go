package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mamaar/vbarefactor/internal/cli"
	"github.com/mamaar/vbarefactor/pkg/refactor"
	"github.com/mamaar/vbarefactor/pkg/types"
)

// OutputJSON outputs data as JSON
func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// LoadEngine creates an engine from the command line flags and loads the
// workspace, exiting on failure.
func LoadEngine(notifier refactor.Notifier) *refactor.DefaultEngine {
	engine, err := cli.CreateEngineWithFlags(notifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
		os.Exit(1)
	}
	if _, err := engine.LoadWorkspace(cli.Context(), *cli.GlobalFlags.Workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading workspace: %v\n", err)
		os.Exit(1)
	}
	return engine
}

// ParseTarget turns the module and variable arguments of move-closer into a
// request. The variable is either a name or a line:column position.
func ParseTarget(module, target string) (refactor.MoveCloserRequest, error) {
	req := refactor.MoveCloserRequest{Module: module}
	if module == "" || target == "" {
		return req, fmt.Errorf("module and variable must not be empty")
	}
	lineText, colText, found := strings.Cut(target, ":")
	if !found {
		req.Name = target
		return req, nil
	}
	line, err := strconv.Atoi(lineText)
	if err != nil || line < 1 {
		return req, fmt.Errorf("invalid line in %q", target)
	}
	col, err := strconv.Atoi(colText)
	if err != nil || col < 1 {
		return req, fmt.Errorf("invalid column in %q", target)
	}
	req.Line, req.Column = line, col
	return req, nil
}

// ErrorMessage returns the text shown to the user for err: the plain message
// for precondition failures, the full error otherwise.
func ErrorMessage(err error) string {
	var re *types.RefactorError
	if errors.As(err, &re) && re.UserFacing() {
		return re.Message
	}
	return err.Error()
}

// DeclarationInfo is the JSON form of a declaration.
type DeclarationInfo struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Accessibility string `json:"accessibility"`
	Module        string `json:"module"`
	Scope         string `json:"scope"`
	Type          string `json:"type,omitempty"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	References    int    `json:"references"`
}

func describe(d *types.Declaration) DeclarationInfo {
	return DeclarationInfo{
		Name:          d.IdentifierName,
		Kind:          d.Kind.String(),
		Accessibility: d.Accessibility.String(),
		Module:        d.Module.ComponentName,
		Scope:         d.ParentScope,
		Type:          d.AsTypeName,
		Line:          d.Selection.StartLine,
		Column:        d.Selection.StartColumn,
		References:    len(d.References),
	}
}

// FormatDeclaration renders one line of the declarations listing.
func FormatDeclaration(d *types.Declaration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d  %-9s %s", d.Module.ComponentName, d.Selection.StartLine, d.Selection.StartColumn, d.Kind.String(), d.IdentifierName)
	if d.AsTypeName != "" {
		fmt.Fprintf(&b, " As %s", d.AsTypeName)
	}
	fmt.Fprintf(&b, "  (%d references)", len(d.References))
	return b.String()
}
