package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// textResult marshals v to JSON and wraps it in a text tool result.
func textResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// errResult returns a tool result that signals an error. Precondition
// failures carry their message only.
func errResult(err error) *mcp.CallToolResult {
	var re *types.RefactorError
	if errors.As(err, &re) && re.UserFacing() {
		return mcp.NewToolResultError(re.Message)
	}
	return mcp.NewToolResultError(err.Error())
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}
