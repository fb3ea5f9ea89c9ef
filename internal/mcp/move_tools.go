package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mamaar/vbarefactor/pkg/refactor"
)

type MoveCloserOutput struct {
	AttemptID     string   `json:"attempt_id"`
	Declaration   string   `json:"declaration"`
	State         string   `json:"state"`
	Module        string   `json:"module"`
	Line          int      `json:"line"`
	Unqualified   int      `json:"unqualified"`
	Notifications []string `json:"notifications,omitempty"`
	Diff          string   `json:"diff,omitempty"`
	Written       []string `json:"written,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func registerMoveTools(s *server.MCPServer, state *MCPServer) {
	s.AddTool(mcp.NewTool("move_closer_to_usage",
		mcp.WithDescription("Move a variable declaration into the procedure that uses it, just above its first use, and drop the module qualifier from references in other modules. Identify the variable by name or by a line and column inside its declaration."),
		mcp.WithString("module",
			mcp.Required(),
			mcp.Description("Module that declares the variable"),
		),
		mcp.WithString("name",
			mcp.Description("Variable name"),
		),
		mcp.WithNumber("line",
			mcp.Description("1-based line of the declaration, used when name is omitted"),
		),
		mcp.WithNumber("column",
			mcp.Description("1-based column of the declaration, used when name is omitted"),
		),
		mcp.WithBoolean("save",
			mcp.Description("Write the modified modules to disk"),
			mcp.DefaultBool(true),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return moveCloserToUsage(ctx, state, request.GetArguments()), nil
	})
}

func moveCloserToUsage(ctx context.Context, state *MCPServer, args map[string]any) *mcp.CallToolResult {
	req := refactor.MoveCloserRequest{
		Module: stringArg(args, "module"),
		Name:   stringArg(args, "name"),
		Line:   intArg(args, "line"),
		Column: intArg(args, "column"),
	}
	if req.Module == "" {
		return mcp.NewToolResultError("module is required")
	}
	if req.Name == "" && (req.Line < 1 || req.Column < 1) {
		return mcp.NewToolResultError("name or line and column are required")
	}
	save := boolArg(args, "save", true)

	state.Lock()
	engine, err := state.Engine()
	if err != nil {
		state.Unlock()
		return errResult(err)
	}
	_, mark := state.Notifications(0)
	outcome, err := engine.MoveCloserToUsage(ctx, req)
	notes, _ := state.Notifications(mark)
	if outcome == nil {
		state.Unlock()
		if len(notes) > 0 {
			return mcp.NewToolResultError(notes[0])
		}
		return errResult(err)
	}

	out := MoveCloserOutput{
		AttemptID:     outcome.AttemptID,
		Declaration:   outcome.Declaration,
		State:         outcome.State.String(),
		Notifications: notes,
	}
	if reloc := outcome.Relocation; reloc != nil {
		out.Module = reloc.Module.ComponentName
		out.Line = reloc.Insertion.StartLine
	}
	if outcome.Rewrite != nil {
		out.Unqualified = outcome.Rewrite.Unqualified
	}
	if diff, derr := engine.PreviewChanges(); derr == nil {
		out.Diff = diff
	}
	if err != nil {
		out.Error = err.Error()
		state.Unlock()
		return textResult(out)
	}
	if save {
		written, serr := engine.SaveWorkspace()
		if serr != nil {
			out.Error = serr.Error()
		}
		out.Written = written
	}
	state.Unlock()

	state.SyncWorkspaceChanges(ctx, out.Written)
	return textResult(out)
}
