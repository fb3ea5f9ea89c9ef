package mcp

import "github.com/mark3labs/mcp-go/server"

// RegisterAllTools wires every vbarefactor tool into the MCP server.
func RegisterAllTools(s *server.MCPServer, state *MCPServer) {
	registerWorkspaceTools(s, state)
	registerAnalysisTools(s, state)
	registerMoveTools(s, state)
}
