package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mamaar/vbarefactor/pkg/types"
)

type DeclarationOutput struct {
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

type CandidateOutput struct {
	DeclarationOutput
	TargetScope string `json:"target_scope"`
}

func declarationOutput(d *types.Declaration) DeclarationOutput {
	return DeclarationOutput{
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

func registerAnalysisTools(s *server.MCPServer, state *MCPServer) {
	s.AddTool(mcp.NewTool("list_declarations",
		mcp.WithDescription("List the declarations of one module, or of the whole project, with their reference counts."),
		mcp.WithString("module",
			mcp.Description("Module name; omit to list every module"),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return listDeclarations(ctx, state, request.GetArguments()), nil
	})

	s.AddTool(mcp.NewTool("find_candidates",
		mcp.WithDescription("Find variables whose every use is inside one procedure other than the scope that declares them."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return findCandidates(ctx, state), nil
	})
}

func listDeclarations(ctx context.Context, state *MCPServer, args map[string]any) *mcp.CallToolResult {
	state.Lock()
	defer state.Unlock()
	engine, err := state.Engine()
	if err != nil {
		return errResult(err)
	}
	decls, err := engine.Declarations(ctx, stringArg(args, "module"))
	if err != nil {
		return errResult(err)
	}
	out := []DeclarationOutput{}
	for _, d := range decls {
		if d.Kind == types.ModuleDeclaration {
			continue
		}
		out = append(out, declarationOutput(d))
	}
	return textResult(out)
}

func findCandidates(ctx context.Context, state *MCPServer) *mcp.CallToolResult {
	state.Lock()
	defer state.Unlock()
	engine, err := state.Engine()
	if err != nil {
		return errResult(err)
	}
	candidates, err := engine.Candidates(ctx)
	if err != nil {
		return errResult(err)
	}
	out := []CandidateOutput{}
	for _, c := range candidates {
		out = append(out, CandidateOutput{
			DeclarationOutput: declarationOutput(c.Declaration),
			TargetScope:       c.TargetScope,
		})
	}
	return textResult(out)
}
