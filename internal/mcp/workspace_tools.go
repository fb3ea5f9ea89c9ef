package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type LoadWorkspaceOutput struct {
	Project     string `json:"project"`
	RootPath    string `json:"root_path"`
	ModuleCount int    `json:"module_count"`
	Watching    bool   `json:"watching"`
}

type ModuleStatus struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Lines int    `json:"lines"`
	Dirty bool   `json:"dirty,omitempty"`
}

type WorkspaceStatusOutput struct {
	Loaded      bool           `json:"loaded"`
	Project     string         `json:"project,omitempty"`
	RootPath    string         `json:"root_path,omitempty"`
	ModuleCount int            `json:"module_count"`
	Modules     []ModuleStatus `json:"modules,omitempty"`
	State       string         `json:"state,omitempty"`
}

type SaveWorkspaceOutput struct {
	Written []string `json:"written"`
}

func registerWorkspaceTools(s *server.MCPServer, state *MCPServer) {
	s.AddTool(mcp.NewTool("load_workspace",
		mcp.WithDescription("Load a folder of exported VBA modules (.bas, .cls, .frm) for refactoring. Must be called before any other tool."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the folder holding the module files"),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return loadWorkspace(ctx, state, request.GetArguments()), nil
	})

	s.AddTool(mcp.NewTool("workspace_status",
		mcp.WithDescription("Return the loaded project, its modules and the state of the last refactoring attempt."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return workspaceStatus(state), nil
	})

	s.AddTool(mcp.NewTool("preview_changes",
		mcp.WithDescription("Show the unsaved edits of every module as a unified diff."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		state.Lock()
		defer state.Unlock()
		engine, err := state.Engine()
		if err != nil {
			return errResult(err), nil
		}
		diff, err := engine.PreviewChanges()
		if err != nil {
			return errResult(err), nil
		}
		if diff == "" {
			return mcp.NewToolResultText("No changes."), nil
		}
		return mcp.NewToolResultText(diff), nil
	})

	s.AddTool(mcp.NewTool("save_workspace",
		mcp.WithDescription("Write every modified module back to its file."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return saveWorkspace(ctx, state), nil
	})
}

func loadWorkspace(ctx context.Context, state *MCPServer, args map[string]any) *mcp.CallToolResult {
	path := stringArg(args, "path")
	if path == "" {
		return mcp.NewToolResultError("path is required")
	}
	engine, err := state.LoadWorkspace(ctx, path)
	if err != nil {
		return errResult(err)
	}
	state.Lock()
	defer state.Unlock()
	project := engine.Project()
	return textResult(LoadWorkspaceOutput{
		Project:     project.ID,
		RootPath:    project.Root,
		ModuleCount: len(project.Modules()),
		Watching:    state.Watching(),
	})
}

func workspaceStatus(state *MCPServer) *mcp.CallToolResult {
	state.Lock()
	defer state.Unlock()

	engine, err := state.Engine()
	if err != nil {
		return textResult(WorkspaceStatusOutput{Loaded: false})
	}
	project := engine.Project()
	out := WorkspaceStatusOutput{
		Loaded:   true,
		Project:  project.ID,
		RootPath: project.Root,
		State:    engine.Coordinator().State().String(),
	}
	for _, buf := range project.Modules() {
		out.Modules = append(out.Modules, ModuleStatus{
			Name:  buf.Name().ComponentName,
			Kind:  buf.Kind().String(),
			Lines: buf.CountOfLines(),
			Dirty: buf.Dirty(),
		})
	}
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].Name < out.Modules[j].Name })
	out.ModuleCount = len(out.Modules)
	return textResult(out)
}

func saveWorkspace(ctx context.Context, state *MCPServer) *mcp.CallToolResult {
	state.Lock()
	engine, err := state.Engine()
	if err != nil {
		state.Unlock()
		return errResult(err)
	}
	written, err := engine.SaveWorkspace()
	state.Unlock()
	if err != nil {
		return errResult(err)
	}
	state.SyncWorkspaceChanges(ctx, written)
	return textResult(SaveWorkspaceOutput{Written: written})
}
